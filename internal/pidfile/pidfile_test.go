package pidfile

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/udpbridge/internal/fsutil"
	"github.com/banshee-data/udpbridge/internal/timeutil"
)

const testPath = "/run/can2udp.pid"

type fakeProcs struct {
	alive   map[int]bool
	signals []syscall.Signal
	// exitAfter makes a signalled process die after that many liveness checks.
	exitAfter int
}

func (p *fakeProcs) isAlive(pid int) bool {
	if !p.alive[pid] {
		return false
	}
	if len(p.signals) > 0 {
		if p.exitAfter == 0 {
			p.alive[pid] = false
			return false
		}
		p.exitAfter--
	}
	return true
}

func (p *fakeProcs) signal(pid int, sig syscall.Signal) error {
	if !p.alive[pid] {
		return errors.New("no such process")
	}
	p.signals = append(p.signals, sig)
	return nil
}

func newTestFile(procs *fakeProcs) (*File, *fsutil.MemoryFileSystem, *timeutil.MockClock) {
	mfs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	return &File{
		FS:     mfs,
		Path:   testPath,
		Clock:  clock,
		Alive:  procs.isAlive,
		Signal: procs.signal,
		Pid:    100,
	}, mfs, clock
}

func TestCreate_WritesPid(t *testing.T) {
	f, mfs, _ := newTestFile(&fakeProcs{})
	require.NoError(t, f.Create())

	data, err := mfs.ReadFile(testPath)
	require.NoError(t, err)
	assert.Equal(t, "100\n", string(data))

	pid, ok := f.Running()
	assert.True(t, ok)
	assert.Equal(t, 100, pid)
}

func TestCreate_AlreadyRunning(t *testing.T) {
	f, mfs, _ := newTestFile(&fakeProcs{alive: map[int]bool{42: true}})
	mfs.WriteFile(testPath, []byte("42\n"), 0644)

	err := f.Create()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Contains(t, err.Error(), "pid=42")
}

func TestCreate_ReplacesStale(t *testing.T) {
	for _, contents := range []string{"42\n", "garbage", ""} {
		f, mfs, _ := newTestFile(&fakeProcs{})
		mfs.WriteFile(testPath, []byte(contents), 0644)
		require.NoError(t, f.Create(), "contents %q", contents)
		pid, err := f.Read()
		require.NoError(t, err)
		assert.Equal(t, 100, pid)
	}
}

// racingFS lets another daemon claim the path right after a stale file is
// removed.
type racingFS struct {
	*fsutil.MemoryFileSystem
	claim string
}

func (r *racingFS) Remove(name string) error {
	if err := r.MemoryFileSystem.Remove(name); err != nil {
		return err
	}
	if r.claim != "" {
		fsutil.WriteExclusive(r.MemoryFileSystem, name, []byte(r.claim), 0644)
		r.claim = ""
	}
	return nil
}

func TestCreate_LosesRaceAfterStaleRemoval(t *testing.T) {
	f, mfs, _ := newTestFile(&fakeProcs{alive: map[int]bool{55: true}})
	mfs.WriteFile(testPath, []byte("42\n"), 0644)
	f.FS = &racingFS{MemoryFileSystem: mfs, claim: "55\n"}

	err := f.Create()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	pid, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, 55, pid, "the winner's file is left in place")
}

func TestCreate_OwnFile(t *testing.T) {
	f, mfs, _ := newTestFile(&fakeProcs{})
	mfs.WriteFile(testPath, []byte("100\n"), 0644)
	require.NoError(t, f.Create())
}

// Of several daemons starting together, exactly one owns the pid file.
func TestCreate_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can2udp.pid")
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		f := New(path)
		f.Pid = 1000 + i
		f.Alive = func(int) bool { return true }
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.Create()
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	}
	assert.Equal(t, 1, winners)
}

func TestRemove(t *testing.T) {
	f, mfs, _ := newTestFile(&fakeProcs{})
	require.NoError(t, f.Remove(), "missing file")

	require.NoError(t, f.Create())
	require.NoError(t, f.Remove())
	assert.False(t, mfs.Exists(testPath))

	// A file taken over by another instance is left alone.
	mfs.WriteFile(testPath, []byte("7\n"), 0644)
	require.NoError(t, f.Remove())
	assert.True(t, mfs.Exists(testPath))
}

func TestKill(t *testing.T) {
	procs := &fakeProcs{alive: map[int]bool{42: true}, exitAfter: 3}
	f, mfs, clock := newTestFile(procs)
	mfs.WriteFile(testPath, []byte("42"), 0644)

	require.NoError(t, f.Kill(syscall.SIGTERM, 5*time.Second))
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, procs.signals)
	assert.Equal(t, []time.Duration{pollInterval, pollInterval, pollInterval}, clock.Sleeps())
}

func TestKill_Timeout(t *testing.T) {
	procs := &fakeProcs{alive: map[int]bool{42: true}, exitAfter: 1 << 30}
	f, mfs, clock := newTestFile(procs)
	mfs.WriteFile(testPath, []byte("42"), 0644)

	err := f.Kill(syscall.SIGTERM, time.Second)
	assert.ErrorIs(t, err, ErrStillRunning)
	assert.Len(t, clock.Sleeps(), 10)
}

func TestKill_NotRunning(t *testing.T) {
	f, mfs, _ := newTestFile(&fakeProcs{})
	assert.ErrorIs(t, f.Kill(syscall.SIGTERM, time.Second), ErrNotRunning)

	mfs.WriteFile(testPath, []byte("42"), 0644)
	assert.ErrorIs(t, f.Kill(syscall.SIGTERM, time.Second), ErrNotRunning)
}

func TestNew_RealProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	f := New(path)
	require.NoError(t, f.Create())
	assert.True(t, processAlive(os.Getpid()))

	other := New(path)
	other.Pid = os.Getpid() + 1
	assert.ErrorIs(t, other.Create(), ErrAlreadyRunning)

	require.NoError(t, f.Remove())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/run/iio2udp.pid", Path("iio2udp"))
}
