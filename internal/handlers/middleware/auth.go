package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/opensharehq/pointsledger/internal/handlers/ownerctx"
	"github.com/opensharehq/pointsledger/internal/handlers/render"
	"github.com/opensharehq/pointsledger/internal/models"
)

const defaultSigningMethod = "HS256"

// Claims of the access token issued by the identity collaborator. The
// service only verifies, it never issues tokens.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	OwnerID   uuid.UUID `json:"oid"`
	OwnerType string    `json:"otype"`
	Operator  bool      `json:"op,omitempty"`
}

// AuthMiddleware verifies the bearer token and puts the principal into the
// request context
func AuthMiddleware(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := principalFromRequest(r, secretKey)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := ownerctx.New(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOperator rejects principals without the operator claim. Must run
// after AuthMiddleware.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownerctx.FromContext(r.Context())
		if !ok || !p.Operator {
			render.ServiceError(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFromRequest(r *http.Request, secretKey string) (ownerctx.Principal, error) {
	var p ownerctx.Principal

	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return p, jwt.ErrTokenMalformed
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(secretKey), nil
		},
		jwt.WithValidMethods([]string{defaultSigningMethod}),
	)
	if err != nil {
		return p, err
	}

	ownerType := claims.OwnerType
	if ownerType == "" {
		ownerType = models.OwnerTypeUser
	}

	return ownerctx.Principal{
		Owner:    models.Owner{Type: ownerType, ID: claims.OwnerID},
		Operator: claims.Operator,
	}, nil
}
