package sandbox

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileConnectsToLiveSandbox(t *testing.T) {
	prov := NewFakeProvisioner()
	ctx := context.Background()

	original, err := prov.Create(ctx)
	require.NoError(t, err)

	sb, err := Reconcile(ctx, prov, original.ID(), map[string]string{"a.txt": "ignored for live sandboxes"})
	require.NoError(t, err)
	assert.Equal(t, original.ID(), sb.ID())
	assert.Equal(t, 1, prov.CreatedCount(), "no new sandbox for a reachable ID")

	fake := sb.(*FakeSandbox)
	assert.Equal(t, IdleTimeout, fake.Timeout(), "idle timeout re-applied on reconnect")
	assert.Empty(t, fake.Files(), "no replay into a live sandbox")
}

func TestReconcileRecreatesExpiredSandbox(t *testing.T) {
	prov := NewFakeProvisioner()
	ctx := context.Background()

	original, err := prov.Create(ctx)
	require.NoError(t, err)
	prov.Expire(original.ID())

	files := map[string]string{
		"app/page.tsx":   "export default function Page() {}",
		"app/layout.tsx": "export default function Layout() {}",
	}
	sb, err := Reconcile(ctx, prov, original.ID(), files)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID(), sb.ID())

	fake := sb.(*FakeSandbox)
	assert.Equal(t, IdleTimeout, fake.Timeout())
	if diff := cmp.Diff(files, fake.Files()); diff != "" {
		t.Errorf("replayed files mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileWithoutIDProvisionsFresh(t *testing.T) {
	prov := NewFakeProvisioner()
	sb, err := Reconcile(context.Background(), prov, "", map[string]string{"a.txt": "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, prov.CreatedCount())
	assert.Equal(t, "a", sb.(*FakeSandbox).Files()["a.txt"])
}

func TestReconcilePartialReplayStillSucceeds(t *testing.T) {
	prov := NewFakeProvisioner()
	prov.FailWrites["broken.txt"] = true

	files := map[string]string{"ok.txt": "fine", "broken.txt": "never lands"}
	sb, err := Reconcile(context.Background(), prov, "", files)
	require.NoError(t, err, "per-file replay failures must not fail reconciliation")

	got := sb.(*FakeSandbox).Files()
	assert.Equal(t, "fine", got["ok.txt"])
	assert.NotContains(t, got, "broken.txt")
}

func TestReconcileCreateFailure(t *testing.T) {
	prov := NewFakeProvisioner()
	prov.CreateErr = assert.AnError

	_, err := Reconcile(context.Background(), prov, "", nil)
	assert.ErrorIs(t, err, assert.AnError)
}
