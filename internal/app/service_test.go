package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwellhq/dwell/internal/adapters/evaluator"
	"github.com/dwellhq/dwell/internal/adapters/repository"
	service "github.com/dwellhq/dwell/internal/app"
	"github.com/dwellhq/dwell/internal/domain/model"
	"github.com/dwellhq/dwell/internal/domain/profile"
	"github.com/dwellhq/dwell/internal/domain/scoring"
	"github.com/dwellhq/dwell/internal/domain/types"
	"github.com/dwellhq/dwell/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.InitWithWriter(io.Discard)
}

var clock = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

type countingEvaluator struct {
	scoring.Evaluator
	calls atomic.Int32
	err   error
}

func (c *countingEvaluator) Evaluate(ctx context.Context, u model.User, l model.Listing) (scoring.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return scoring.Result{}, c.err
	}
	return c.Evaluator.Evaluate(ctx, u, l)
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]model.Recommendation
	invalidated []string
	gets        int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]model.Recommendation)}
}

func (c *fakeCache) Get(_ context.Context, userID string, limit int) ([]model.Recommendation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	recs, ok := c.entries[fmt.Sprintf("%s:%d", userID, limit)]
	return recs, ok, nil
}

func (c *fakeCache) Set(_ context.Context, userID string, limit int, recs []model.Recommendation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fmt.Sprintf("%s:%d", userID, limit)] = recs
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	for k := range c.entries {
		delete(c.entries, k)
	}
	return nil
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func seedStore(ctx context.Context, credits float64, listings int) *repository.MemoryStore {
	store := repository.NewMemoryStore()
	So(store.SaveUser(ctx, model.User{
		ID:                "u1",
		FirstName:         "Maya",
		PreferenceProfile: "Quiet street near the park with a sunny bedroom.",
		EvaluationCredits: credits,
	}), ShouldBeNil)
	for i := 0; i < listings; i++ {
		So(store.SaveListing(ctx, model.Listing{
			ID:          fmt.Sprintf("l%d", i),
			URL:         fmt.Sprintf("https://listings.example/l%d", i),
			Title:       "Sunny room by the park",
			Price:       f64(1500),
			PricePeriod: model.PeriodMonth,
			ListingType: model.ListingRoom,
			SourceSite:  "listingproject",
			CreatedAt:   clock.Add(-time.Duration(i) * time.Hour),
		}), ShouldBeNil)
	}
	return store
}

func newService(store repository.Store, ev scoring.Evaluator, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithClock(func() time.Time { return clock }),
		service.WithIDGenerator(sequentialIDs()),
	}
	return service.New(store, ev, append(base, opts...)...)
}

func staticEvaluator() *countingEvaluator {
	return &countingEvaluator{Evaluator: evaluator.NewStatic(evaluator.WithLatencyRange(0, 0))}
}

func TestService_EvaluateUserListings(t *testing.T) {
	ctx := context.Background()

	Convey("Given a user with credits and three candidates", t, func() {
		store := seedStore(ctx, 1.0, 3)
		ev := staticEvaluator()
		cache := newFakeCache()
		svc := newService(store, ev, service.WithCache(cache))

		Convey("When the user's listings are evaluated", func() {
			out := svc.EvaluateUserListings(ctx, "u1")

			Convey("Then every candidate should be scored and billed", func() {
				So(out.OK(), ShouldBeTrue)
				res := out.Value()
				So(res.UserID, ShouldEqual, "u1")
				So(res.Stats.CandidatesFound, ShouldEqual, 3)
				So(res.Stats.Completed, ShouldEqual, 3)
				So(res.Stats.ErrorCount, ShouldEqual, 0)
				So(ev.calls.Load(), ShouldEqual, 3)

				perCall := scoring.NewBudgeter(ev.Model()).PerEvaluation()
				So(res.Stats.TotalCost, ShouldAlmostEqual, 3*perCall, 1e-12)
				So(res.RemainingCredits, ShouldAlmostEqual, 1.0-3*perCall, 1e-12)
			})

			Convey("Then the run should be recorded as completed", func() {
				run, err := svc.Run(ctx, out.Value().RunID)
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, model.RunCompleted)
				So(run.Stats.Completed, ShouldEqual, 3)
				So(run.FinishedAt, ShouldNotBeNil)
			})

			Convey("Then the recommendation cache should be invalidated", func() {
				So(cache.invalidated, ShouldResemble, []string{"u1"})
			})

			Convey("Then a second run should find nothing left to score", func() {
				again := svc.EvaluateUserListings(ctx, "u1")
				So(again.OK(), ShouldBeTrue)
				So(again.Value().Stats.CandidatesFound, ShouldEqual, 0)
				So(ev.calls.Load(), ShouldEqual, 3)
			})
		})

		Convey("When the evaluator fails for every listing", func() {
			ev.err = errors.New("model returned garbage")
			out := svc.EvaluateUserListings(ctx, "u1")

			Convey("Then the run should complete with errors counted and nothing billed", func() {
				So(out.OK(), ShouldBeTrue)
				So(out.Value().Stats.ErrorCount, ShouldEqual, 3)
				So(out.Value().Stats.Completed, ShouldEqual, 0)
				So(out.Value().RemainingCredits, ShouldEqual, 1.0)
				So(cache.invalidated, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a user below the credit threshold", t, func() {
		store := seedStore(ctx, 0.05, 3)
		ev := staticEvaluator()
		svc := newService(store, ev)

		Convey("When the user's listings are evaluated", func() {
			out := svc.EvaluateUserListings(ctx, "u1")

			Convey("Then the run should be refused without any evaluator call", func() {
				So(out.OK(), ShouldBeFalse)
				So(out.Reason(), ShouldEqual, types.ReasonInsufficientCredits)
				So(out.Message(), ShouldEqual, "Insufficient credits")
				So(ev.calls.Load(), ShouldEqual, 0)
				So(store.EvaluationCount("u1"), ShouldEqual, 0)
			})

			Convey("Then the refusal should be recorded as a run", func() {
				run, err := svc.Run(ctx, "id-1")
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, model.RunInsufficientCredits)
			})

			Convey("Then the task handler should not treat it as a failure", func() {
				So(svc.HandleTask(ctx, model.Task{ID: "t1", UserID: "u1", Attempt: 1}), ShouldBeNil)
			})
		})
	})

	Convey("Given an unknown user", t, func() {
		svc := newService(repository.NewMemoryStore(), staticEvaluator())

		Convey("Then the outcome should be not found and not retryable", func() {
			out := svc.EvaluateUserListings(ctx, "ghost")
			So(out.Reason(), ShouldEqual, types.ReasonNotFound)
			So(out.Reason().Retryable(), ShouldBeFalse)

			err := svc.HandleTask(ctx, model.Task{ID: "t1", UserID: "ghost", Attempt: 1})
			So(types.ReasonOf(err), ShouldEqual, types.ReasonNotFound)
		})
	})

	Convey("Given a closed store", t, func() {
		store := seedStore(ctx, 1.0, 1)
		store.Close()
		svc := newService(store, staticEvaluator())

		Convey("Then the failure should be permanent", func() {
			out := svc.EvaluateUserListings(ctx, "u1")
			So(out.OK(), ShouldBeFalse)
			So(out.Reason(), ShouldEqual, types.ReasonPermanent)
			So(errors.Is(out.Err(), repository.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestService_Recommendations(t *testing.T) {
	ctx := context.Background()

	Convey("Given a user with scored listings and a cache", t, func() {
		store := seedStore(ctx, 1.0, 4)
		cache := newFakeCache()
		svc := newService(store, staticEvaluator(), service.WithCache(cache))
		So(svc.EvaluateUserListings(ctx, "u1").OK(), ShouldBeTrue)

		Convey("When recommendations are read twice", func() {
			first, err := svc.Recommendations(ctx, "u1", 2)
			So(err, ShouldBeNil)
			second, err := svc.Recommendations(ctx, "u1", 2)
			So(err, ShouldBeNil)

			Convey("Then the second read should come from the cache", func() {
				So(len(first), ShouldEqual, 2)
				So(second, ShouldResemble, first)
				So(cache.gets, ShouldEqual, 2)
				So(len(cache.entries), ShouldEqual, 1)
			})

			Convey("Then they should be ordered by score", func() {
				So(first[0].Evaluation.Score, ShouldBeGreaterThanOrEqualTo, first[1].Evaluation.Score)
			})
		})

		Convey("When the limit is not positive", func() {
			_, err := svc.Recommendations(ctx, "u1", 0)
			So(errors.Is(err, service.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("When the evaluation status is read", func() {
			st, err := svc.EvaluationStatus(ctx, "u1")
			So(err, ShouldBeNil)
			So(st.TotalEvaluations, ShouldEqual, 4)
		})
	})
}

func TestService_Profile(t *testing.T) {
	ctx := context.Background()

	Convey("Given a stored user", t, func() {
		store := seedStore(ctx, 1.0, 0)
		svc := newService(store, staticEvaluator())

		Convey("When the price range is inverted", func() {
			out := svc.UpdatePreferences(ctx, "u1", profile.PreferenceUpdates{MinPrice: f64(3000), MaxPrice: f64(2000)})

			Convey("Then a validation failure should be returned and nothing saved", func() {
				So(out.Reason(), ShouldEqual, types.ReasonValidation)
				So(out.Message(), ShouldEqual, "Minimum price cannot exceed maximum price")
				u, _ := store.GetUser(ctx, "u1")
				So(u.MinPrice, ShouldBeNil)
			})
		})

		Convey("When valid preferences are saved", func() {
			out := svc.UpdatePreferences(ctx, "u1", profile.PreferenceUpdates{MinPrice: f64(1000), MaxPrice: f64(2000)})

			Convey("Then the version should be bumped and persisted", func() {
				So(out.OK(), ShouldBeTrue)
				u, _ := store.GetUser(ctx, "u1")
				So(*u.MaxPrice, ShouldEqual, 2000)
				So(u.PreferenceVersion, ShouldEqual, 1)
				So(u.LastPreferenceUpdate.Equal(clock), ShouldBeTrue)
			})
		})

		Convey("When completion is requested with a short profile", func() {
			out := svc.MarkProfileComplete(ctx, "u1")

			Convey("Then the missing items should be listed", func() {
				So(out.Reason(), ShouldEqual, types.ReasonValidation)
				So(out.Message(), ShouldStartWith, "Cannot mark profile complete. Missing: ")
				So(out.Message(), ShouldContainSubstring, "minimum budget")
			})
		})

		Convey("When the user does not exist", func() {
			out := svc.ResetProfileCompletion(ctx, "ghost")
			So(out.Reason(), ShouldEqual, types.ReasonNotFound)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service that has not been started", t, func() {
		svc := newService(repository.NewMemoryStore(), staticEvaluator())

		Convey("Then enqueueing should fail and stats should report it", func() {
			_, err := svc.Enqueue(ctx, "u1")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})

	Convey("Given a started service with a slow evaluator", t, func() {
		store := seedStore(ctx, 1.0, 2)
		ev := &countingEvaluator{Evaluator: evaluator.NewStatic(evaluator.WithLatencyRange(50*time.Millisecond, 50*time.Millisecond))}
		svc := newService(store, ev, service.WithWorkerCount(2), service.WithQueueSize(8))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When the scheduler runs", func() {
			res, err := svc.ScheduleEligibleUsers(ctx)
			So(err, ShouldBeNil)

			Convey("Then one task should be created for the eligible user", func() {
				So(res.UsersFound, ShouldEqual, 1)
				So(res.TasksCreated, ShouldEqual, 1)
			})

			Convey("Then the same user should not be queued twice while in flight", func() {
				queued, err := svc.Enqueue(ctx, "u1")
				So(err, ShouldBeNil)
				So(queued, ShouldBeFalse)
			})

			Convey("Then the task should eventually score every listing", func() {
				deadline := time.Now().Add(3 * time.Second)
				for store.EvaluationCount("u1") < 2 && time.Now().Before(deadline) {
					time.Sleep(10 * time.Millisecond)
				}
				So(store.EvaluationCount("u1"), ShouldEqual, 2)

				for svc.GetStats()["inFlightUsers"] != int64(0) && time.Now().Before(deadline) {
					time.Sleep(10 * time.Millisecond)
				}
				So(svc.GetStats()["inFlightUsers"], ShouldEqual, int64(0))
			})
		})

		Convey("Then stats should describe the running pool", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 2)
			So(stats["queueSize"], ShouldEqual, 8)
		})
	})
}
