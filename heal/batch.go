package heal

import (
	"context"
	"sync"

	"github.com/selmend/selmend/selector"
)

// batchWorkers bounds fan-out in BatchHeal. Heals are independent except
// for repository writes, which serialize on atomic upserts.
const batchWorkers = 4

// ContextFactory supplies a healing context per selector in a batch.
type ContextFactory func(sel selector.Selector) selector.HealingContext

// BatchHeal heals every selector with its own context and returns results
// in input order. A failing selector never aborts the rest of the batch.
func (h *Healer) BatchHeal(ctx context.Context, selectors []selector.Selector, contextFor ContextFactory) []selector.HealingResult {
	results := make([]selector.HealingResult, len(selectors))
	if len(selectors) == 0 {
		return results
	}

	workers := batchWorkers
	if len(selectors) < workers {
		workers = len(selectors)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = h.Heal(ctx, selectors[i], contextFor(selectors[i]))
			}
		}()
	}

	for i := range selectors {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
