// Package allocator distributes a pool of points across many owners in
// proportion to their contribution scores, then executes the grants in
// fixed size batches over a worker pool. Each batch is one database
// transaction, so a failure voids that batch only.
package allocator

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensharehq/pointsledger/internal/apperrors"
	"github.com/opensharehq/pointsledger/internal/logger"
	"github.com/opensharehq/pointsledger/internal/models"
	"github.com/opensharehq/pointsledger/internal/repository"
	"github.com/opensharehq/pointsledger/internal/service/ledger"
)

const (
	defaultCountWorkers = 4
	defaultBatchSize    = 100
)

type pointsLedger interface {
	GrantIn(ctx context.Context, st repository.Storage, p ledger.GrantParams) (models.Lot, error)
}

type Service struct {
	countWorkers int
	batchSize    int

	storage repository.Storage
	ledger  pointsLedger
	logger  logger.Logger
}

func NewService(storage repository.Storage, l pointsLedger, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNoOp()
	}

	return &Service{
		countWorkers: defaultCountWorkers,
		batchSize:    defaultBatchSize,
		storage:      storage,
		ledger:       l,
		logger:       log,
	}
}

// Recipient is one owner in the distribution with its contribution score
type Recipient struct {
	Owner models.Owner
	Score decimal.Decimal
}

// Share is the points a recipient gets from the pool
type Share struct {
	Owner  models.Owner
	Points int64
}

type PreviewParams struct {
	// Pool is the total points to distribute
	Pool int64

	// Ratio scales every share, 1 distributes the full pool
	Ratio decimal.Decimal

	Recipients []Recipient
}

// Preview computes each recipient's integer share of the pool without
// touching the ledger. Shares are floored and the leftover points go to the
// recipients with the largest truncated fractions, so the total never
// exceeds the scaled pool.
func Preview(p PreviewParams) ([]Share, error) {
	if p.Pool <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}
	if p.Ratio.IsNegative() || p.Ratio.IsZero() {
		return nil, apperrors.ErrInvalidAmount
	}

	total := decimal.Zero
	for _, r := range p.Recipients {
		if r.Score.IsNegative() {
			return nil, apperrors.ErrInvalidAmount
		}
		total = total.Add(r.Score)
	}
	if total.IsZero() {
		return nil, apperrors.ErrInvalidAmount
	}

	pool := decimal.NewFromInt(p.Pool).Mul(p.Ratio)
	target := pool.IntPart()

	type rounding struct {
		idx      int
		fraction decimal.Decimal
	}

	shares := make([]Share, len(p.Recipients))
	roundings := make([]rounding, len(p.Recipients))

	var granted int64
	for i, r := range p.Recipients {
		exact := pool.Mul(r.Score).Div(total)
		floored := exact.IntPart()

		shares[i] = Share{Owner: r.Owner, Points: floored}
		roundings[i] = rounding{idx: i, fraction: exact.Sub(decimal.NewFromInt(floored))}
		granted += floored
	}

	// Hand the leftover points to the largest fractions, original order as
	// the tie break
	leftover := target - granted
	for leftover > 0 {
		best := -1
		for _, r := range roundings {
			if best == -1 || r.fraction.GreaterThan(roundings[best].fraction) {
				best = r.idx
			}
		}
		if best == -1 {
			break
		}
		shares[best].Points++
		roundings[best].fraction = decimal.NewFromInt(-1)
		leftover--
	}

	return shares, nil
}

type ExecuteParams struct {
	Shares []Share

	// Grant metadata applied to every created lot
	Tags        []string
	Reason      string
	ReferenceID string
}

// Result sums up an executed distribution
type Result struct {
	Batches       int
	FailedBatches int
	Granted       int64
}

// Execute grants every positive share, batchSize grants per database
// transaction, countWorkers transactions in flight. A failed batch is logged
// and skipped, its shares are not granted.
func (s *Service) Execute(ctx context.Context, p ExecuteParams) Result {
	var shares []Share
	for _, sh := range p.Shares {
		if sh.Points > 0 {
			shares = append(shares, sh)
		}
	}

	batches := make(chan []Share)
	go func() {
		defer close(batches)
		for start := 0; start < len(shares); start += s.batchSize {
			end := min(start+s.batchSize, len(shares))
			select {
			case <-ctx.Done():
				return
			case batches <- shares[start:end]:
			}
		}
	}()

	var mu sync.Mutex
	var result Result

	var wg sync.WaitGroup
	for i := 0; i < s.countWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for batch := range batches {
				granted, err := s.grantBatch(ctx, batch, p)

				mu.Lock()
				result.Batches++
				if err != nil {
					result.FailedBatches++
					s.logger.Error("allocation batch failed", "error", err, "batch_size", len(batch))
				} else {
					result.Granted += granted
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return result
}

func (s *Service) grantBatch(ctx context.Context, batch []Share, p ExecuteParams) (int64, error) {
	var granted int64

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		for _, sh := range batch {
			_, err := s.ledger.GrantIn(ctx, st, ledger.GrantParams{
				Owner:       sh.Owner,
				Points:      sh.Points,
				Tags:        p.Tags,
				Reason:      p.Reason,
				ReferenceID: p.ReferenceID,
			})
			if err != nil {
				return err
			}
			granted += sh.Points
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return granted, nil
}
