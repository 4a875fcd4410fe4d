package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/config"
	"github.com/cboxdk/wp-runtime-manager/internal/installer"
	"github.com/cboxdk/wp-runtime-manager/internal/mysql"
	"github.com/cboxdk/wp-runtime-manager/internal/platform"
	"github.com/cboxdk/wp-runtime-manager/internal/ports"
	"github.com/cboxdk/wp-runtime-manager/internal/storage"
	"github.com/cboxdk/wp-runtime-manager/internal/testutil"
)

// fakeProcess is a process that exits when told to
type fakeProcess struct {
	spec ProcessSpec
	pid  int
	done chan struct{}
	once sync.Once

	// ignoreTerminate keeps the process alive after Terminate
	ignoreTerminate bool

	mu         sync.Mutex
	exitCode   int
	terminated bool
	killed     bool
}

func newFakeProcess(spec ProcessSpec, pid int) *fakeProcess {
	return &fakeProcess{spec: spec, pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitErr() error {
	if code := p.ExitCode(); code > 0 {
		return fmt.Errorf("exit status %d", code)
	}
	return nil
}

func (p *fakeProcess) ExitCode() int {
	if !p.exited() {
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	ignore := p.ignoreTerminate
	p.mu.Unlock()
	if !ignore {
		p.exit(0)
	}
	return nil
}

func (p *fakeProcess) Kill(context.Context) error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(137)
	return nil
}

// fakeLauncher records every launch. hook may customize a process before it is
// returned, or fail the launch.
type fakeLauncher struct {
	mu        sync.Mutex
	nextPID   int
	procs     []*fakeProcess
	initFails int
	hook      func(p *fakeProcess) error
}

func (l *fakeLauncher) Launch(_ context.Context, spec ProcessSpec) (Process, error) {
	l.mu.Lock()
	l.nextPID++
	p := newFakeProcess(spec, 1000+l.nextPID)
	l.procs = append(l.procs, p)
	failInit := spec.Name == "initialize" && l.initFails > 0
	if failInit {
		l.initFails--
	}
	hook := l.hook
	l.mu.Unlock()

	if spec.Name == "initialize" {
		if failInit {
			if spec.Stderr != nil {
				_, _ = io.WriteString(spec.Stderr, "[ERROR] data directory has files in it")
			}
			p.exit(1)
		} else {
			p.exit(0)
		}
	}

	if hook != nil {
		if err := hook(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (l *fakeLauncher) launched(name string) []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	var result []*fakeProcess
	for _, p := range l.procs {
		if p.spec.Name == name {
			result = append(result, p)
		}
	}
	return result
}

// exitDatabase stops the database listening on port, as a real shutdown would
func (l *fakeLauncher) exitDatabase(port int) {
	flag := fmt.Sprintf("--port=%d", port)
	for _, p := range l.launched("database") {
		for _, arg := range p.spec.Args {
			if arg == flag {
				p.exit(0)
			}
		}
	}
}

type fakeAdmin struct {
	launcher *fakeLauncher

	mu             sync.Mutex
	pingErr        error
	createErr      error
	execErr        error
	ignoreShutdown bool
	databases      []string
	statements     []string
	shutdowns      int
}

func (a *fakeAdmin) Ping(context.Context, int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pingErr
}

func (a *fakeAdmin) CreateDatabase(_ context.Context, _ int, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return a.createErr
	}
	a.databases = append(a.databases, name)
	return nil
}

func (a *fakeAdmin) Exec(_ context.Context, _ int, statement string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statements = append(a.statements, statement)
	return a.execErr
}

func (a *fakeAdmin) Shutdown(ctx context.Context, port int) error {
	a.mu.Lock()
	a.shutdowns++
	ignore := a.ignoreShutdown
	a.mu.Unlock()

	if ignore {
		<-ctx.Done()
		return ctx.Err()
	}
	a.launcher.exitDatabase(port)
	return nil
}

type fakeDetector struct {
	version *mysql.Version
}

func (d fakeDetector) Detect(context.Context, string) *mysql.Version {
	return d.version
}

type fakeLocator struct {
	dir string

	mu      sync.Mutex
	missing map[binaries.Kind]bool
}

func (l *fakeLocator) Resolve(kind binaries.Kind) (binaries.Resolution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.missing[kind] {
		return binaries.Resolution{}, fmt.Errorf("%w: %s", binaries.ErrNotFound, kind)
	}
	return binaries.Resolution{
		Kind:   kind,
		Path:   filepath.Join(l.dir, kind.Command()),
		Source: binaries.SourcePath,
	}, nil
}

func (l *fakeLocator) CheckAll(kinds ...binaries.Kind) (bool, []binaries.Kind) {
	var missing []binaries.Kind
	for _, kind := range kinds {
		if _, err := l.Resolve(kind); err != nil {
			missing = append(missing, kind)
		}
	}
	return len(missing) == 0, missing
}

func (l *fakeLocator) setMissing(kinds ...binaries.Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missing = make(map[binaries.Kind]bool)
	for _, kind := range kinds {
		l.missing[kind] = true
	}
}

type fakeRegistry struct {
	mu   sync.Mutex
	apps map[string]*storage.App
}

func (r *fakeRegistry) FindApp(_ context.Context, id string) (*storage.App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return nil, storage.ErrAppNotFound
	}
	copied := *app
	return &copied, nil
}

func (r *fakeRegistry) UpdateAppPorts(_ context.Context, id string, pair *ports.Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return storage.ErrAppNotFound
	}
	if pair == nil {
		app.Ports = nil
		return nil
	}
	copied := *pair
	app.Ports = &copied
	return nil
}

// fakeInstaller makes the locator find everything once Install runs
type fakeInstaller struct {
	locator *fakeLocator
	delay   time.Duration

	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
}

func (i *fakeInstaller) Platform() string { return platform.Linux }

func (i *fakeInstaller) Probe(context.Context) installer.Status {
	return installer.Status{}
}

func (i *fakeInstaller) Install(_ context.Context, _ []binaries.Kind) installer.Result {
	i.mu.Lock()
	i.calls++
	i.active++
	if i.active > i.maxActive {
		i.maxActive = i.active
	}
	i.mu.Unlock()

	time.Sleep(i.delay)
	i.locator.setMissing()

	i.mu.Lock()
	i.active--
	i.mu.Unlock()
	return installer.Result{Success: true, Installed: binaries.RequiredKinds}
}

type harness struct {
	sup       *Supervisor
	launcher  *fakeLauncher
	admin     *fakeAdmin
	locator   *fakeLocator
	registry  *fakeRegistry
	allocator *ports.Allocator
}

type harnessOptions struct {
	version  *mysql.Version
	platform platform.Info
	mutate   func(cfg *config.Config)
	extra    []Option
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Timeouts.DatabaseReady = 2 * time.Second
	cfg.Timeouts.ReadinessPoll = 5 * time.Millisecond
	cfg.Timeouts.InterpreterGrace = 10 * time.Millisecond
	cfg.Timeouts.InterpreterStop = 200 * time.Millisecond
	cfg.Timeouts.DatabaseShutdown = 100 * time.Millisecond
	cfg.Timeouts.DatabaseInitialize = time.Second
	cfg.Runtime.AutoInstall = false
	if opts.mutate != nil {
		opts.mutate(cfg)
	}

	if opts.platform.OS == "" {
		opts.platform = platform.Info{OS: platform.Linux, Arch: "amd64", Username: "tester"}
	}
	if opts.version == nil {
		opts.version = &mysql.Version{Major: 8, Minor: 0, Patch: 35}
	}

	logger := zaptest.NewLogger(t)
	h := &harness{
		launcher: &fakeLauncher{},
		locator:  &fakeLocator{dir: "/opt/runtime/bin"},
		registry: &fakeRegistry{apps: map[string]*storage.App{}},
	}
	h.admin = &fakeAdmin{launcher: h.launcher}
	h.allocator = ports.NewAllocator(cfg.Ports.ScanWindow, cfg.Ports.MaxAttempts, logger,
		ports.WithProber(func(int) bool { return true }))

	options := []Option{
		WithLauncher(h.launcher),
		WithAdmin(h.admin),
		WithDetector(fakeDetector{version: opts.version}),
		WithLocator(h.locator),
		WithAllocator(h.allocator),
		WithRegistry(h.registry),
		WithPlatform(opts.platform),
	}
	options = append(options, opts.extra...)

	sup, err := New(cfg, logger, options...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.sup = sup
	return h
}

func (h *harness) register(id, path string) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	h.registry.apps[id] = &storage.App{ID: id, Path: path, Type: "wordpress"}
}

func TestStartFreshApp(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()
	h.register("app-1", appPath)

	pair, err := h.sup.Start(context.Background(), "app-1", appPath)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	if pair.Interpreter <= 1024 || pair.Database <= 1024 {
		t.Errorf("ports must be above 1024, got %+v", pair)
	}
	if pair.Interpreter == pair.Database {
		t.Errorf("ports must differ, got %+v", pair)
	}
	if !h.sup.IsRunning("app-1") {
		t.Error("IsRunning(app-1) = false after Start")
	}

	for _, path := range []string{
		filepath.Join(appPath, ".runtime-data", "database"),
		filepath.Join(appPath, ".runtime-data", "interpreter.ini"),
		filepath.Join(appPath, ".runtime-data", "sessions"),
		filepath.Join(appPath, "wp-config.php"),
		filepath.Join(appPath, "wordpress"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}

	for name, want := range map[string]int{"initialize": 1, "database": 1, "interpreter": 1} {
		if got := len(h.launcher.launched(name)); got != want {
			t.Errorf("launched %s %d times, want %d", name, got, want)
		}
	}

	interpreter := h.launcher.launched("interpreter")[0]
	wantArgs := []string{
		"-S", fmt.Sprintf("127.0.0.1:%d", pair.Interpreter),
		"-t", filepath.Join(appPath, "wordpress"),
		"-c", filepath.Join(appPath, ".runtime-data", "interpreter.ini"),
	}
	if strings.Join(interpreter.spec.Args, " ") != strings.Join(wantArgs, " ") {
		t.Errorf("interpreter args = %v, want %v", interpreter.spec.Args, wantArgs)
	}

	app, _ := h.registry.FindApp(context.Background(), "app-1")
	if app.Ports == nil || *app.Ports != pair {
		t.Errorf("registry ports = %v, want %+v", app.Ports, pair)
	}

	status := h.sup.Status("app-1")
	if status.State != StateRunning {
		t.Errorf("Status().State = %s, want %s", status.State, StateRunning)
	}
	if status.DatabaseVersion != "8.0.35" {
		t.Errorf("Status().DatabaseVersion = %s, want 8.0.35", status.DatabaseVersion)
	}

	if len(h.admin.databases) != 1 || h.admin.databases[0] != config.DefaultDatabaseName {
		t.Errorf("created databases = %v", h.admin.databases)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()

	first, err := h.sup.Start(context.Background(), "app-1", appPath)
	if err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	second, err := h.sup.Start(context.Background(), "app-1", appPath)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	if first != second {
		t.Errorf("ports changed between starts: %+v vs %+v", first, second)
	}
	if got := len(h.launcher.launched("database")); got != 1 {
		t.Errorf("database launched %d times, want 1", got)
	}
	if got := len(h.launcher.launched("interpreter")); got != 1 {
		t.Errorf("interpreter launched %d times, want 1", got)
	}
}

func TestConcurrentStartsOfSameAppSpawnOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()

	var wg sync.WaitGroup
	results := make([]ports.Pair, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.sup.Start(context.Background(), "app-1", appPath)
		}(i)
	}
	wg.Wait()
	defer h.sup.Stop(context.Background(), "app-1")

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Start() #%d error = %v", i, err)
		}
		if results[i] != results[0] {
			t.Errorf("Start() #%d ports = %+v, want %+v", i, results[i], results[0])
		}
	}
	if got := len(h.launcher.launched("database")); got != 1 {
		t.Errorf("database launched %d times, want 1", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()
	h.register("app-1", appPath)

	// Unknown app
	h.sup.Stop(context.Background(), "missing")
	if h.sup.IsRunning("missing") {
		t.Error("IsRunning(missing) = true")
	}

	pair, err := h.sup.Start(context.Background(), "app-1", appPath)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.sup.Stop(context.Background(), "app-1")
	h.sup.Stop(context.Background(), "app-1")

	if h.sup.IsRunning("app-1") {
		t.Error("IsRunning(app-1) = true after Stop")
	}
	if state := h.sup.Status("app-1").State; state != StateAbsent {
		t.Errorf("Status().State = %s, want %s", state, StateAbsent)
	}
	if h.allocator.Reserved(pair.Interpreter) || h.allocator.Reserved(pair.Database) {
		t.Error("ports still reserved after Stop")
	}

	for _, p := range append(h.launcher.launched("database"), h.launcher.launched("interpreter")...) {
		if !p.exited() {
			t.Errorf("%s process still running after Stop", p.spec.Name)
		}
	}
	if h.launcher.launched("database")[0].wasKilled() {
		t.Error("database was killed although it honoured the shutdown")
	}

	app, _ := h.registry.FindApp(context.Background(), "app-1")
	if app.Ports != nil {
		t.Errorf("registry ports = %+v after Stop, want nil", *app.Ports)
	}
}

func TestStartRollsBackWhenInterpreterFails(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.launcher.hook = func(p *fakeProcess) error {
		if p.spec.Name == "interpreter" {
			p.exit(255)
		}
		return nil
	}
	appPath := t.TempDir()

	_, err := h.sup.Start(context.Background(), "app-1", appPath)
	if err == nil {
		t.Fatal("Start() succeeded, want error")
	}
	if !errors.Is(err, ErrProcessExited) {
		t.Errorf("Start() error = %v, want ErrProcessExited", err)
	}

	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("Start() error %T is not a *StartError", err)
	}
	if startErr.State != StateInterpreterStarting {
		t.Errorf("StartError.State = %s, want %s", startErr.State, StateInterpreterStarting)
	}

	database := h.launcher.launched("database")
	if len(database) != 1 || !database[0].exited() {
		t.Error("database process left running after rollback")
	}
	if h.sup.IsRunning("app-1") {
		t.Error("IsRunning(app-1) = true after failed start")
	}
	if len(h.sup.GetRunningProcesses()) != 0 {
		t.Errorf("GetRunningProcesses() = %v, want empty", h.sup.GetRunningProcesses())
	}
	if state := h.sup.Status("app-1").State; state != StateAbsent {
		t.Errorf("Status().State = %s, want %s", state, StateAbsent)
	}
	if h.allocator.Reserved(8080) || h.allocator.Reserved(3306) {
		t.Error("ports still reserved after rollback")
	}
}

func TestStartRollsBackWhenSpawnFails(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.launcher.hook = func(p *fakeProcess) error {
		if p.spec.Name == "interpreter" {
			return errors.New("exec: permission denied")
		}
		return nil
	}

	if _, err := h.sup.Start(context.Background(), "app-1", t.TempDir()); err == nil {
		t.Fatal("Start() succeeded, want error")
	}
	if !h.launcher.launched("database")[0].exited() {
		t.Error("database process left running after rollback")
	}
}

func TestStartPreservesExistingAppConfig(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()

	original := []byte("<?php\n// edited by hand\ndefine('DB_HOST', '127.0.0.1:9999');\n")
	configPath := filepath.Join(appPath, "wp-config.php")
	if err := os.WriteFile(configPath, original, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := h.sup.Start(context.Background(), "app-1", appPath); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	got, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(original) {
		t.Errorf("app config changed:\n%s", got)
	}
}

func TestConcurrentAppsGetDistinctPorts(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	apps := map[string]string{"app-1": t.TempDir(), "app-2": t.TempDir()}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]ports.Pair{}
	)
	for id, path := range apps {
		wg.Add(1)
		go func(id, path string) {
			defer wg.Done()
			pair, err := h.sup.Start(context.Background(), id, path)
			if err != nil {
				t.Errorf("Start(%s) error = %v", id, err)
				return
			}
			mu.Lock()
			results[id] = pair
			mu.Unlock()
		}(id, path)
	}
	wg.Wait()
	defer h.sup.StopAll(context.Background())

	if len(results) != 2 {
		t.Fatalf("started %d apps, want 2", len(results))
	}
	if results["app-1"].Interpreter == results["app-2"].Interpreter {
		t.Errorf("apps share interpreter port %d", results["app-1"].Interpreter)
	}

	seen := map[int]string{}
	for id, pair := range results {
		for _, port := range []int{pair.Interpreter, pair.Database} {
			if other, ok := seen[port]; ok {
				t.Errorf("port %d used by %s and %s", port, other, id)
			}
			seen[port] = id
		}
	}

	running := h.sup.GetRunningProcesses()
	if len(running) != 2 {
		t.Errorf("GetRunningProcesses() returned %d entries, want 2", len(running))
	}
}

func TestStopForcesDatabaseThatIgnoresShutdown(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()

	if _, err := h.sup.Start(context.Background(), "app-1", appPath); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.admin.mu.Lock()
	h.admin.ignoreShutdown = true
	h.admin.mu.Unlock()

	start := time.Now()
	h.sup.Stop(context.Background(), "app-1")
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("Stop() took %s", elapsed)
	}
	database := h.launcher.launched("database")[0]
	if !database.wasKilled() {
		t.Error("database was not killed after shutdown timeout")
	}
	if h.sup.IsRunning("app-1") {
		t.Error("IsRunning(app-1) = true after forced stop")
	}
}

func TestStopKillsInterpreterThatIgnoresTerminate(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.launcher.hook = func(p *fakeProcess) error {
		if p.spec.Name == "interpreter" {
			p.ignoreTerminate = true
		}
		return nil
	}

	if _, err := h.sup.Start(context.Background(), "app-1", t.TempDir()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.sup.Stop(context.Background(), "app-1")

	interpreter := h.launcher.launched("interpreter")[0]
	if !interpreter.wasKilled() {
		t.Error("interpreter was not killed")
	}
}

func TestStartFailsWhenBinariesMissing(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.locator.setMissing(binaries.DatabaseServer)

	_, err := h.sup.Start(context.Background(), "app-1", t.TempDir())
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("Start() error = %v, want ErrBinaryMissing", err)
	}

	var missing *BinaryMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("error %T does not carry the missing kinds", err)
	}
	if len(missing.Missing) != 1 || missing.Missing[0] != binaries.DatabaseServer {
		t.Errorf("Missing = %v, want [database-server]", missing.Missing)
	}
	if len(h.launcher.procs) != 0 {
		t.Errorf("launched %d processes, want 0", len(h.launcher.procs))
	}

	check := h.sup.CheckBinaries()
	if check.Available {
		t.Error("CheckBinaries().Available = true")
	}
	if len(check.Missing) != 1 || check.Missing[0] != string(binaries.DatabaseServer) {
		t.Errorf("CheckBinaries().Missing = %v", check.Missing)
	}
}

func TestStartInstallsMissingBinaries(t *testing.T) {
	fake := &fakeInstaller{}
	h := newHarness(t, harnessOptions{
		mutate: func(cfg *config.Config) { cfg.Runtime.AutoInstall = true },
		extra:  []Option{WithInstaller(fake)},
	})
	fake.locator = h.locator
	h.locator.setMissing(binaries.Interpreter, binaries.DatabaseServer)

	if _, err := h.sup.Start(context.Background(), "app-1", t.TempDir()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	if fake.calls != 1 {
		t.Errorf("installer called %d times, want 1", fake.calls)
	}
}

func TestConcurrentStartsShareOneInstall(t *testing.T) {
	fake := &fakeInstaller{delay: 50 * time.Millisecond}
	h := newHarness(t, harnessOptions{
		mutate: func(cfg *config.Config) { cfg.Runtime.AutoInstall = true },
		extra:  []Option{WithInstaller(fake)},
	})
	fake.locator = h.locator
	h.locator.setMissing(binaries.Interpreter, binaries.DatabaseServer)

	ids := []string{"app-1", "app-2", "app-3"}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = h.sup.Start(context.Background(), id, t.TempDir())
		}(i, id)
	}
	wg.Wait()
	defer h.sup.StopAll(context.Background())

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Start(%s) error = %v", ids[i], err)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.maxActive != 1 {
		t.Errorf("installer ran %d times concurrently, want 1", fake.maxActive)
	}
	if fake.calls != 1 {
		t.Errorf("installer called %d times, want 1", fake.calls)
	}
}

func TestInitializationRetry(t *testing.T) {
	tests := []struct {
		name       string
		os         string
		initFails  int
		wantErr    bool
		wantLaunch int
	}{
		{name: "darwin recovers after one failure", os: platform.Darwin, initFails: 1, wantLaunch: 2},
		{name: "darwin gives up after two failures", os: platform.Darwin, initFails: 2, wantErr: true, wantLaunch: 2},
		{name: "linux does not retry", os: platform.Linux, initFails: 1, wantErr: true, wantLaunch: 1},
		{name: "windows does not retry", os: platform.Windows, initFails: 1, wantErr: true, wantLaunch: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{
				platform: platform.Info{OS: tt.os, Arch: "arm64", Username: "tester"},
			})
			h.launcher.initFails = tt.initFails
			appPath := t.TempDir()

			_, err := h.sup.Start(context.Background(), "app-1", appPath)
			if tt.wantErr {
				if !errors.Is(err, ErrInitializationFailure) {
					t.Errorf("Start() error = %v, want ErrInitializationFailure", err)
				}
				dataDir := filepath.Join(appPath, ".runtime-data", "database")
				if _, statErr := os.Stat(dataDir); !os.IsNotExist(statErr) {
					t.Errorf("partial data directory left behind: %v", statErr)
				}
			} else {
				if err != nil {
					t.Errorf("Start() error = %v", err)
				}
				h.sup.Stop(context.Background(), "app-1")
			}

			if got := len(h.launcher.launched("initialize")); got != tt.wantLaunch {
				t.Errorf("initialize launched %d times, want %d", got, tt.wantLaunch)
			}
		})
	}
}

func TestInitializationSkippedForExistingDataDirectory(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()
	if err := os.MkdirAll(filepath.Join(appPath, ".runtime-data", "database"), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := h.sup.Start(context.Background(), "app-1", appPath); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	if got := len(h.launcher.launched("initialize")); got != 0 {
		t.Errorf("initialize launched %d times for an existing data directory", got)
	}
}

func TestStartRefusesSuperuserForNewServers(t *testing.T) {
	tests := []struct {
		name    string
		os      string
		version *mysql.Version
		refused bool
	}{
		{name: "9.2.0 on darwin", os: platform.Darwin, version: &mysql.Version{Major: 9, Minor: 2}, refused: true},
		{name: "9.2.0 on linux", os: platform.Linux, version: &mysql.Version{Major: 9, Minor: 2}},
		{name: "8.0.35 on darwin", os: platform.Darwin, version: &mysql.Version{Major: 8, Minor: 0, Patch: 35}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{
				version:  tt.version,
				platform: platform.Info{OS: tt.os, Arch: "amd64", Superuser: true, Username: "root"},
			})

			_, err := h.sup.Start(context.Background(), "app-1", t.TempDir())
			if tt.refused {
				if !errors.Is(err, mysql.ErrSuperuserRefused) {
					t.Errorf("Start() error = %v, want ErrSuperuserRefused", err)
				}
				if len(h.launcher.procs) != 0 {
					t.Errorf("launched %d processes, want 0", len(h.launcher.procs))
				}
				return
			}
			if err != nil {
				t.Errorf("Start() error = %v", err)
			}
			h.sup.Stop(context.Background(), "app-1")
		})
	}
}

func TestDatabaseArgumentsFollowProfile(t *testing.T) {
	tests := []struct {
		name       string
		version    *mysql.Version
		wantLegacy bool
		wantUser   bool
	}{
		{name: "9.2.0", version: &mysql.Version{Major: 9, Minor: 2}, wantUser: true},
		{name: "8.3.0", version: &mysql.Version{Major: 8, Minor: 3}, wantUser: true},
		{name: "8.0.35", version: &mysql.Version{Major: 8, Patch: 35}, wantLegacy: true, wantUser: true},
		{name: "5.7.44", version: &mysql.Version{Major: 5, Minor: 7, Patch: 44}, wantUser: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{version: tt.version})
			if _, err := h.sup.Start(context.Background(), "app-1", t.TempDir()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer h.sup.Stop(context.Background(), "app-1")

			for _, name := range []string{"initialize", "database"} {
				args := strings.Join(h.launcher.launched(name)[0].spec.Args, " ")
				if got := strings.Contains(args, "--default-authentication-plugin"); got != tt.wantLegacy {
					t.Errorf("%s legacy auth flag present = %v, want %v (%s)", name, got, tt.wantLegacy, args)
				}
				if got := strings.Contains(args, "--user="); got != tt.wantUser {
					t.Errorf("%s user flag present = %v, want %v (%s)", name, got, tt.wantUser, args)
				}
			}
		})
	}
}

func TestDatabaseStartupFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantErr   error
		wantState State
	}{
		{
			name: "never ready",
			setup: func(h *harness) {
				h.admin.pingErr = errors.New("connection refused")
				h.sup.cfg.Timeouts.DatabaseReady = 50 * time.Millisecond
			},
			wantErr:   ErrStartupTimeout,
			wantState: StateDatabaseStarting,
		},
		{
			name: "exits during startup",
			setup: func(h *harness) {
				h.admin.pingErr = errors.New("connection refused")
				h.launcher.hook = func(p *fakeProcess) error {
					if p.spec.Name == "database" {
						p.exit(1)
					}
					return nil
				}
			},
			wantErr:   ErrProcessExited,
			wantState: StateDatabaseStarting,
		},
		{
			name: "database creation fails",
			setup: func(h *harness) {
				h.admin.createErr = errors.New("access denied")
			},
			wantErr:   ErrDatabaseCreation,
			wantState: StateDatabaseReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			tt.setup(h)

			_, err := h.sup.Start(context.Background(), "app-1", t.TempDir())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start() error = %v, want %v", err, tt.wantErr)
			}
			var startErr *StartError
			if errors.As(err, &startErr) && startErr.State != tt.wantState {
				t.Errorf("StartError.State = %s, want %s", startErr.State, tt.wantState)
			}
			if !h.launcher.launched("database")[0].exited() {
				t.Error("database left running after failed start")
			}
			if len(h.launcher.launched("interpreter")) != 0 {
				t.Error("interpreter spawned after database failure")
			}
		})
	}
}

func TestAuthAdjustmentFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, harnessOptions{version: &mysql.Version{Major: 8, Minor: 4, Patch: 2}})
	h.admin.execErr = errors.New("plugin not loaded")

	if _, err := h.sup.Start(context.Background(), "app-1", t.TempDir()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	if len(h.admin.statements) != 1 || !strings.Contains(h.admin.statements[0], "caching_sha2_password") {
		t.Errorf("statements = %v", h.admin.statements)
	}
}

func TestPreviousPortsArePreferred(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()
	h.register("app-1", appPath)
	if err := h.registry.UpdateAppPorts(context.Background(), "app-1", &ports.Pair{Interpreter: 8123, Database: 3456}); err != nil {
		t.Fatal(err)
	}

	pair, err := h.sup.Start(context.Background(), "app-1", appPath)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	if pair != (ports.Pair{Interpreter: 8123, Database: 3456}) {
		t.Errorf("ports = %+v, want previous 8123/3456", pair)
	}
}

func TestStopAll(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	for _, id := range []string{"app-1", "app-2", "app-3"} {
		if _, err := h.sup.Start(context.Background(), id, t.TempDir()); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
	}

	// Every database ignores the shutdown command and has to be killed
	h.admin.mu.Lock()
	h.admin.ignoreShutdown = true
	h.admin.mu.Unlock()

	if err := h.sup.StopAll(context.Background()); err != nil {
		t.Errorf("StopAll() error = %v", err)
	}
	if running := h.sup.GetRunningProcesses(); len(running) != 0 {
		t.Errorf("GetRunningProcesses() = %v after StopAll", running)
	}
	for _, p := range h.launcher.launched("database") {
		if !p.exited() {
			t.Error("database left running after StopAll")
		}
	}

	if err := h.sup.StopAll(context.Background()); err != nil {
		t.Errorf("second StopAll() error = %v", err)
	}
}

func TestStopAllWaitsForStartInProgress(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.admin.mu.Lock()
	h.admin.pingErr = errors.New("connection refused")
	h.admin.mu.Unlock()

	startErr := make(chan error, 1)
	go func() {
		_, err := h.sup.Start(context.Background(), "app-1", t.TempDir())
		startErr <- err
	}()
	testutil.WaitFor(t, time.Second, func() bool {
		return h.sup.Status("app-1").State == StateDatabaseStarting
	})

	stopped := make(chan error, 1)
	go func() { stopped <- h.sup.StopAll(context.Background()) }()

	// StopAll is queued behind the start before the database comes up
	testutil.WaitFor(t, time.Second, func() bool {
		h.sup.locksMu.Lock()
		defer h.sup.locksMu.Unlock()
		l, ok := h.sup.locks["app-1"]
		return ok && l.refs == 2
	})
	h.admin.mu.Lock()
	h.admin.pingErr = nil
	h.admin.mu.Unlock()

	if err := <-startErr; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := <-stopped; err != nil {
		t.Errorf("StopAll() error = %v", err)
	}

	if running := h.sup.GetRunningProcesses(); len(running) != 0 {
		t.Errorf("GetRunningProcesses() = %v after StopAll", running)
	}
	if state := h.sup.Status("app-1").State; state != StateAbsent {
		t.Errorf("Status() = %s after StopAll, want %s", state, StateAbsent)
	}
	for _, p := range h.launcher.launched("database") {
		if !p.exited() {
			t.Error("database left running after StopAll")
		}
	}
	for _, p := range h.launcher.launched("interpreter") {
		if !p.exited() {
			t.Error("interpreter left running after StopAll")
		}
	}
}

func TestRunCLI(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	appPath := t.TempDir()

	if _, err := h.sup.RunCLI(context.Background(), "app-1", []string{"plugin", "list"}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("RunCLI() on stopped app error = %v, want ErrNotRunning", err)
	}

	h.launcher.hook = func(p *fakeProcess) error {
		if p.spec.Name == "cli" {
			_, _ = io.WriteString(p.spec.Stdout, "akismet\n")
			_, _ = io.WriteString(p.spec.Stderr, "Warning: deprecated\n")
			p.exit(3)
		}
		return nil
	}

	if _, err := h.sup.Start(context.Background(), "app-1", appPath); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.sup.Stop(context.Background(), "app-1")

	result, err := h.sup.RunCLI(context.Background(), "app-1", []string{"plugin", "list"})
	if err != nil {
		t.Fatalf("RunCLI() error = %v", err)
	}
	if result.ExitCode != 3 || result.Stdout != "akismet\n" || result.Stderr != "Warning: deprecated\n" {
		t.Errorf("RunCLI() = %+v", result)
	}

	cli := h.launcher.launched("cli")[0]
	contentRoot := filepath.Join(appPath, "wordpress")
	if cli.spec.Dir != contentRoot {
		t.Errorf("cli dir = %s, want %s", cli.spec.Dir, contentRoot)
	}
	wantArgs := []string{
		"-c", filepath.Join(appPath, ".runtime-data", "interpreter.ini"),
		filepath.Join("/opt/runtime/bin", "wp"),
		"--path=" + contentRoot, "plugin", "list",
	}
	if strings.Join(cli.spec.Args, " ") != strings.Join(wantArgs, " ") {
		t.Errorf("cli args = %v, want %v", cli.spec.Args, wantArgs)
	}
}

func TestInstallDependenciesWithoutInstaller(t *testing.T) {
	h := newHarness(t, harnessOptions{
		platform: platform.Info{OS: "plan9", Arch: "amd64"},
	})
	h.sup.installer = nil

	result := h.sup.InstallDependencies(context.Background())
	if result.Success || len(result.Errors) == 0 {
		t.Errorf("InstallDependencies() = %+v, want a failure", result)
	}
}

func TestStatusReportsAbsentForUnknownApp(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	status := h.sup.Status("nope")
	if status.State != StateAbsent || status.Ports != nil {
		t.Errorf("Status() = %+v", status)
	}
}
