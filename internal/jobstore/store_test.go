package jobstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mediagen/internal/domain"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newJob(id, user string, kind domain.Kind, created time.Time) *domain.Job {
	return &domain.Job{
		ID:            id,
		UserID:        user,
		SubjectID:     "S1",
		Kind:          kind,
		Request:       domain.Request{SubjectID: "S1", NSFWLevel: domain.IntPtr(10)},
		Priority:      domain.PriorityHigh,
		State:         domain.StateQueued,
		TokensDebited: kind.Price(),
		CreatedAt:     created,
	}
}

func newRedisStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisOptions{Retention: 2 * time.Hour}), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t)
	return map[string]Store{"redis": rs, "memory": NewMemory()}
}

func TestCreateGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newJob("J1", "U1", domain.KindImage, base)
			if err := s.Create(ctx, job); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if err := s.Create(ctx, job); !errors.Is(err, ErrExists) {
				t.Fatalf("second Create error = %v, want ErrExists", err)
			}
			got, err := s.Get(ctx, "J1")
			if err != nil {
				t.Fatalf("Get returned error: %v", err)
			}
			if got.UserID != "U1" || got.State != domain.StateQueued || *got.Request.NSFWLevel != 10 {
				t.Fatalf("Get = %+v", got)
			}
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v", err)
			}
		})
	}
}

func TestUpdateEnforcesStateMachine(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Create(ctx, newJob("J1", "U1", domain.KindImage, base)); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}

			_, err := s.Update(ctx, "J1", domain.StateReserved, func(j *domain.Job) error {
				j.State = domain.StateProcessing
				return nil
			})
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("guard mismatch error = %v, want ErrConflict", err)
			}

			_, err = s.Update(ctx, "J1", domain.StateQueued, func(j *domain.Job) error {
				j.State = domain.StateCompleted
				return nil
			})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("queued->completed error = %v, want ErrInvalidTransition", err)
			}

			_, err = s.Update(ctx, "J1", "", func(j *domain.Job) error {
				j.Priority = domain.PriorityUrgent
				return nil
			})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("priority change error = %v, want ErrInvalidTransition", err)
			}

			lease := base.Add(10 * time.Minute)
			got, err := s.Update(ctx, "J1", domain.StateQueued, func(j *domain.Job) error {
				j.State = domain.StateReserved
				j.WorkerID = "w1"
				j.LeaseUntil = &lease
				return nil
			})
			if err != nil {
				t.Fatalf("reserve returned error: %v", err)
			}
			if got.State != domain.StateReserved || got.WorkerID != "w1" {
				t.Fatalf("reserve = %+v", got)
			}

			aborted := errors.New("abort")
			if _, err := s.Update(ctx, "J1", "", func(*domain.Job) error { return aborted }); !errors.Is(err, aborted) {
				t.Fatalf("mutate error = %v", err)
			}

			if _, err := s.Update(ctx, "J1", domain.StateReserved, func(j *domain.Job) error {
				j.State = domain.StateProcessing
				return nil
			}); err != nil {
				t.Fatalf("-> processing returned error: %v", err)
			}
			_, err = s.Update(ctx, "J1", domain.StateProcessing, func(j *domain.Job) error {
				j.State = domain.StateCompleted
				return nil
			})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("completed without artifact error = %v", err)
			}
			if _, err := s.Update(ctx, "J1", domain.StateProcessing, func(j *domain.Job) error {
				j.State = domain.StateCompleted
				j.LeaseUntil = nil
				j.Result = &domain.Result{ArtifactURL: "https://cdn.test/images/S1/J1.png"}
				return nil
			}); err != nil {
				t.Fatalf("-> completed returned error: %v", err)
			}
		})
	}
}

func TestTerminalJobAllowsOnlyRefundFlip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Create(ctx, newJob("J1", "U1", domain.KindImage, base)); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if _, err := s.Update(ctx, "J1", domain.StateQueued, func(j *domain.Job) error {
				j.State = domain.StateCancelled
				return nil
			}); err != nil {
				t.Fatalf("cancel returned error: %v", err)
			}

			_, err := s.Update(ctx, "J1", "", func(j *domain.Job) error {
				j.Refunded = true
				j.Attempts = 2
				return nil
			})
			if !errors.Is(err, ErrTerminal) {
				t.Fatalf("refund plus edit error = %v, want ErrTerminal", err)
			}
			got, err := s.Update(ctx, "J1", "", func(j *domain.Job) error {
				j.Refunded = true
				return nil
			})
			if err != nil || !got.Refunded {
				t.Fatalf("refund flip = %+v, %v", got, err)
			}
			if _, err := s.Update(ctx, "J1", "", func(j *domain.Job) error {
				j.Refunded = true
				return nil
			}); !errors.Is(err, ErrTerminal) {
				t.Fatalf("second refund flip error = %v, want ErrTerminal", err)
			}
		})
	}
}

func TestListNewestFirstWithKindFilter(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kinds := []domain.Kind{domain.KindImage, domain.KindVoice, domain.KindImage, domain.KindVideo, domain.KindImage}
			for i, k := range kinds {
				job := newJob(fmt.Sprintf("J%d", i), "U1", k, base.Add(time.Duration(i)*time.Minute))
				if err := s.Create(ctx, job); err != nil {
					t.Fatalf("Create returned error: %v", err)
				}
			}
			if err := s.Create(ctx, newJob("other", "U2", domain.KindImage, base)); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}

			all, err := s.List(ctx, "U1", "", 10)
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if len(all) != 5 || all[0].ID != "J4" || all[4].ID != "J0" {
				t.Fatalf("List order = %v", ids(all))
			}

			images, err := s.List(ctx, "U1", domain.KindImage, 2)
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if got := ids(images); len(got) != 2 || got[0] != "J4" || got[1] != "J2" {
				t.Fatalf("List(image, 2) = %v", got)
			}
		})
	}
}

func TestRecoverReservedReturnsExpiredLeases(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, lease := range []time.Duration{-time.Minute, time.Minute} {
				id := fmt.Sprintf("J%d", i)
				if err := s.Create(ctx, newJob(id, "U1", domain.KindImage, base)); err != nil {
					t.Fatalf("Create returned error: %v", err)
				}
				until := base.Add(lease)
				if _, err := s.Update(ctx, id, domain.StateQueued, func(j *domain.Job) error {
					j.State = domain.StateReserved
					j.LeaseUntil = &until
					return nil
				}); err != nil {
					t.Fatalf("reserve returned error: %v", err)
				}
			}

			expired, err := s.RecoverReserved(ctx, base)
			if err != nil {
				t.Fatalf("RecoverReserved returned error: %v", err)
			}
			if got := ids(expired); len(got) != 1 || got[0] != "J0" {
				t.Fatalf("RecoverReserved = %v, want [J0]", got)
			}

			if err := s.DropLease(ctx, "J0"); err != nil {
				t.Fatalf("DropLease returned error: %v", err)
			}
			expired, _ = s.RecoverReserved(ctx, base)
			if len(expired) != 0 {
				t.Fatalf("RecoverReserved after DropLease = %v", ids(expired))
			}
		})
	}
}

func TestQueuedOrderedBySeq(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, seq := range []int64{3, 0, 1} {
				job := newJob(fmt.Sprintf("J%d", i), "U1", domain.KindImage, base)
				job.QueueSeq = seq
				if err := s.Create(ctx, job); err != nil {
					t.Fatalf("Create returned error: %v", err)
				}
			}
			done := newJob("J9", "U1", domain.KindImage, base)
			done.State = domain.StateCancelled
			if err := s.Create(ctx, done); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			queued, err := s.Queued(ctx)
			if err != nil {
				t.Fatalf("Queued returned error: %v", err)
			}
			if got := ids(queued); len(got) != 3 || got[0] != "J2" || got[1] != "J0" || got[2] != "J1" {
				t.Fatalf("Queued = %v, want [J2 J0 J1]", got)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Create(ctx, newJob("J1", "U1", domain.KindImage, base)); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if err := s.Delete(ctx, "J1"); err != nil {
				t.Fatalf("Delete returned error: %v", err)
			}
			if _, err := s.Get(ctx, "J1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after Delete error = %v", err)
			}
			if list, _ := s.List(ctx, "U1", "", 10); len(list) != 0 {
				t.Fatalf("List after Delete = %v", ids(list))
			}
		})
	}
}

func TestRedisTerminalRetention(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newJob("J1", "U1", domain.KindImage, base)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if ttl := mr.TTL(JobKey("J1")); ttl != 0 {
		t.Fatalf("queued job TTL = %v, want none", ttl)
	}
	if _, err := s.Update(ctx, "J1", domain.StateQueued, func(j *domain.Job) error {
		j.State = domain.StateCancelled
		return nil
	}); err != nil {
		t.Fatalf("cancel returned error: %v", err)
	}
	if ttl := mr.TTL(JobKey("J1")); ttl != 2*time.Hour {
		t.Fatalf("terminal job TTL = %v, want 2h", ttl)
	}

	mr.FastForward(2*time.Hour + time.Second)
	if _, err := s.Get(ctx, "J1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after retention error = %v", err)
	}
	list, err := s.List(ctx, "U1", "", 10)
	if err != nil || len(list) != 0 {
		t.Fatalf("List after retention = %v, %v", ids(list), err)
	}
	if mr.Exists(userKey("U1")) {
		members, _ := mr.ZMembers(userKey("U1"))
		if len(members) != 0 {
			t.Fatalf("stale index entries kept: %v", members)
		}
	}
}

func ids(jobs []*domain.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
