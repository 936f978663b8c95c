package supervisor

import (
	"testing"

	"github.com/google/uuid"
)

func TestLockForReturnsSameMutexForSameProject(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil, nil, 4)
	projectID := uuid.New()

	first := s.lockFor(projectID)
	second := s.lockFor(projectID)

	if first != second {
		t.Error("expected the same *sync.Mutex for repeated calls with the same project id")
	}
}

func TestLockForReturnsDistinctMutexesPerProject(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil, nil, 4)

	a := s.lockFor(uuid.New())
	b := s.lockFor(uuid.New())

	if a == b {
		t.Error("expected different projects to get different mutexes")
	}
}

func TestWorkerCountStartsAtZero(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil, nil, 4)
	if count := s.WorkerCount(); count != 0 {
		t.Errorf("want 0 workers on a fresh supervisor, got %d", count)
	}
}

func TestCheckBotHealthFalseForUnknownProject(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil, nil, 4)
	if s.CheckBotHealth(uuid.New()) {
		t.Error("expected health check to be false for a project with no worker")
	}
}
