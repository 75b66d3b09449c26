package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// A run blocked on a user question legitimately occupies its job for up to the
// question timeout. Every layer that can declare the job dead must sit above
// the one below it: job timeout above the question timeout, the rescuer and
// the lease stale threshold above the job timeout.
func TestJobDeadlinesCoverSuspendedRuns(t *testing.T) {
	coord := &Coordinator{}
	worker := &CodeAgentWorker{coordinator: coord}

	assert.Greater(t, worker.Timeout(nil), DefaultQuestionTimeout)
	assert.Greater(t, rescueStuckJobsAfter(coord), worker.Timeout(nil))
	assert.Greater(t, coord.leaseStaleAfter(), worker.Timeout(nil))

	coord.QuestionTimeout = 10 * time.Minute
	assert.Greater(t, worker.Timeout(nil), coord.QuestionTimeout)
	assert.Greater(t, rescueStuckJobsAfter(coord), worker.Timeout(nil))
	assert.Greater(t, coord.leaseStaleAfter(), worker.Timeout(nil))
}

func TestCodeAgentArgsKind(t *testing.T) {
	assert.Equal(t, "code_agent_run", CodeAgentArgs{}.Kind())
	assert.Equal(t, 3, CodeAgentArgs{}.InsertOpts().MaxAttempts)
}
