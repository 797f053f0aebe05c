package netmap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	mu       sync.Mutex
	mapped   map[DriveLetter]UNCPath
	local    map[DriveLetter]bool
	conflict map[DriveLetter]int

	connectErr    error
	disconnectErr error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		mapped:   make(map[DriveLetter]UNCPath),
		local:    map[DriveLetter]bool{"C:": true, "D:": true},
		conflict: make(map[DriveLetter]int),
	}
}

func (f *fakeConnector) Connect(drive DriveLetter, remote UNCPath, cred *Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return f.connectErr
	}
	if f.conflict[drive] > 0 {
		f.conflict[drive]--
		return ErrDriveConflict
	}
	if _, taken := f.mapped[drive]; taken || f.local[drive] {
		return ErrDriveConflict
	}
	f.mapped[drive] = remote
	return nil
}

func (f *fakeConnector) Disconnect(drive DriveLetter, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	if _, ok := f.mapped[drive]; !ok {
		return ErrMappingNotFound
	}
	delete(f.mapped, drive)
	return nil
}

func (f *fakeConnector) InUse(drive DriveLetter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, taken := f.mapped[drive]
	return taken || f.local[drive]
}

func newTestManager(t *testing.T) (*Manager, *fakeConnector) {
	t.Helper()
	connector := newFakeConnector()
	mgr, err := NewManager(connector, t.TempDir())
	require.NoError(t, err)
	return mgr, connector
}

func mustUNC(t *testing.T, s string) UNCPath {
	t.Helper()
	u, err := ParseUNCPath(s)
	require.NoError(t, err)
	return u
}

func TestMapPicksHighestFreeLetter(t *testing.T) {
	mgr, connector := newTestManager(t)

	rec, err := mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), nil)
	require.NoError(t, err)
	assert.Equal(t, DriveLetter("Z:"), rec.Drive)
	assert.Equal(t, mustUNC(t, `\\fileserver\projects`), connector.mapped["Z:"])

	active, err := mgr.Active()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rec.Drive, active[0].Drive)
}

func TestMapSkipsTakenLetters(t *testing.T) {
	mgr, connector := newTestManager(t)
	connector.local["Z:"] = true
	connector.local["Y:"] = true

	rec, err := mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), nil)
	require.NoError(t, err)
	assert.Equal(t, DriveLetter("X:"), rec.Drive)
}

func TestMapRetriesOnConflictRace(t *testing.T) {
	mgr, connector := newTestManager(t)
	// Probe says Z: is free, but the redirector reports it taken twice
	// before the mapping lands.
	connector.conflict["Z:"] = 2

	rec, err := mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), nil)
	require.NoError(t, err)
	assert.Equal(t, DriveLetter("Z:"), rec.Drive)
}

func TestMapNonConflictErrorFailsImmediately(t *testing.T) {
	mgr, connector := newTestManager(t)
	connector.connectErr = errors.New("access denied")

	_, err := mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDriveConflict)

	active, listErr := mgr.Active()
	require.NoError(t, listErr)
	assert.Empty(t, active, "failed mapping must not be ledgered")
}

func TestMapRecordsUsername(t *testing.T) {
	mgr, _ := newTestManager(t)

	cred := NewCredential("CORP\\svc-sync", "hunter2")
	rec, err := mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), cred)
	require.NoError(t, err)
	assert.Equal(t, "CORP\\svc-sync", rec.Username)
}

func TestUnmapIsIdempotent(t *testing.T) {
	mgr, connector := newTestManager(t)

	rec, err := mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Unmap(rec, false))
	assert.Empty(t, connector.mapped)

	require.NoError(t, mgr.Unmap(rec, false), "unmapping an already-gone mapping must be a no-op")
	require.NoError(t, mgr.Unmap(nil, false))
}

func TestUnmapKeepsLedgerEntryOnFailure(t *testing.T) {
	mgr, connector := newTestManager(t)

	rec, err := mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), nil)
	require.NoError(t, err)

	connector.disconnectErr = errors.New("files open on device")
	require.Error(t, mgr.Unmap(rec, false))

	active, err := mgr.Active()
	require.NoError(t, err)
	assert.Len(t, active, 1, "failed unmap must stay ledgered for the next sweep")
}

func TestReconcileOrphansClearsStaleMappings(t *testing.T) {
	connector := newFakeConnector()
	dir := t.TempDir()

	mgr, err := NewManager(connector, dir)
	require.NoError(t, err)
	_, err = mgr.Map(context.Background(), mustUNC(t, `\\fileserver\projects`), nil)
	require.NoError(t, err)
	_, err = mgr.Map(context.Background(), mustUNC(t, `\\fileserver\archive`), nil)
	require.NoError(t, err)

	recovered, err := NewManager(connector, dir)
	require.NoError(t, err)
	require.NoError(t, recovered.ReconcileOrphans())

	assert.Empty(t, connector.mapped)
	active, err := recovered.Active()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCredentialClear(t *testing.T) {
	cred := NewCredential("CORP\\svc-sync", "hunter2")
	require.Equal(t, "hunter2", cred.Secret())

	cred.Clear()
	assert.Empty(t, cred.Secret())
	assert.Empty(t, cred.Username)

	var nilCred *Credential
	nilCred.Clear()
	assert.Empty(t, nilCred.Secret())
}

func TestParseDriveLetter(t *testing.T) {
	d, err := ParseDriveLetter(" z: ")
	require.NoError(t, err)
	assert.Equal(t, DriveLetter("Z:"), d)
	assert.Equal(t, `Z:\`, d.Root())

	for _, bad := range []string{"", "Z", "ZZ:", "1:", `\\host\share`} {
		_, err := ParseDriveLetter(bad)
		assert.ErrorIs(t, err, ErrInvalidDrive, bad)
	}
}

func TestParseUNCPath(t *testing.T) {
	u, err := ParseUNCPath(`\\fileserver\projects\team\`)
	require.NoError(t, err)
	assert.Equal(t, UNCPath(`\\fileserver\projects\team`), u)
	assert.Equal(t, UNCPath(`\\fileserver\projects`), u.ShareRoot())

	for _, bad := range []string{"", `C:\data`, `\\fileserver`, `\\\share`} {
		_, err := ParseUNCPath(bad)
		assert.ErrorIs(t, err, ErrInvalidUNC, bad)
	}
}

func TestMappingRemap(t *testing.T) {
	rec := MappingRecord{Drive: "Z:", Remote: mustUNC(t, `\\fileserver\projects`)}

	assert.Equal(t, `Z:\team\docs`, rec.Remap(`\\fileserver\projects\team\docs`))
	assert.Equal(t, `Z:\team`, rec.Remap(`\\FILESERVER\Projects\team`), "match is case-insensitive")
	assert.Equal(t, `\\other\share\x`, rec.Remap(`\\other\share\x`), "paths off the root pass through")
}
