package load

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skudasov/shopload"
	mockservice "github.com/skudasov/shopload/mock_service"
)

func startShop(t *testing.T) (*mockservice.Shop, string) {
	t.Helper()
	shop := mockservice.New(false)
	srv := httptest.NewServer(shop)
	t.Cleanup(srv.Close)
	return shop, srv.URL
}

func fruitRunner(t *testing.T, target string, cfg shopload.RunnerConfig) *shopload.Runner {
	t.Helper()
	gen := &shopload.GeneratorConfig{}
	gen.Generator.Target = target
	lm, err := shopload.NewLoadManager(&shopload.SuiteConfig{HttpTimeout: 2}, gen)
	require.NoError(t, err)
	proto, err := AttackerFromName(FruitLabel)
	require.NoError(t, err)
	r, err := shopload.NewRunner(FruitLabel, lm, proto, nil, cfg)
	require.NoError(t, err)
	return r
}

func closedFruit(users, iterations int) shopload.RunnerConfig {
	return shopload.RunnerConfig{
		HandleName:   FruitLabel,
		SystemMode:   shopload.ClosedWorldSystem,
		Users:        users,
		Iterations:   iterations,
		DoTimeoutSec: 2,
	}
}

func assertFruitRequests(t *testing.T, shop *mockservice.Shop) {
	t.Helper()
	for _, req := range shop.Requests() {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, FruitPath, req.Path)
		assert.Empty(t, req.RawQuery)
		assert.Empty(t, req.Body)
		assert.Empty(t, req.Header.Get("Content-Type"))
		assert.Empty(t, req.Header.Get("Cookie"))
	}
}

func TestFruitProbe(t *testing.T) {
	shop, target := startShop(t)
	r := fruitRunner(t, target+"/", closedFruit(1, 1))

	res, err := r.Probe(3)
	require.NoError(t, err)

	require.Len(t, res, 3)
	for _, each := range res {
		assert.NoError(t, each.Error)
		assert.Equal(t, http.StatusOK, each.StatusCode)
		assert.Equal(t, FruitLabel, each.RequestLabel)
	}
	assert.Equal(t, 3, shop.Hits(http.MethodGet, FruitPath))
	assertFruitRequests(t, shop)
}

func TestFruitClosedRunIterations(t *testing.T) {
	shop, target := startShop(t)
	r := fruitRunner(t, target, closedFruit(1, 7))

	report := r.Run(context.Background())

	assert.Equal(t, 7, shop.Hits(http.MethodGet, FruitPath))
	require.Contains(t, report.Metrics, FruitLabel)
	m := report.Metrics[FruitLabel]
	assert.Equal(t, uint64(7), m.Requests)
	assert.Equal(t, 1.0, m.Success)
	assert.Equal(t, 7, m.StatusCodes["200"])
	assertFruitRequests(t, shop)
}

func TestFruitWaitTimeKeepsRequestShape(t *testing.T) {
	for _, wait := range []shopload.WaitTimeConfig{
		{},
		{Type: shopload.WaitConstant, FixedSec: 0.05},
		{Type: shopload.WaitBetween, MinSec: 0.01, MaxSec: 0.05},
	} {
		shop, target := startShop(t)
		cfg := closedFruit(2, 3)
		cfg.WaitTime = wait
		r := fruitRunner(t, target, cfg)

		r.Run(context.Background())

		assert.Equal(t, 6, shop.Hits(http.MethodGet, FruitPath), wait.Type)
		assertFruitRequests(t, shop)
	}
}

func TestFruitServerErrorsAreCounted(t *testing.T) {
	shop, target := startShop(t)
	shop.FailWith(http.StatusInternalServerError)
	r := fruitRunner(t, target, closedFruit(1, 4))

	report := r.Run(context.Background())

	m := report.Metrics[FruitLabel]
	require.NotNil(t, m)
	assert.Equal(t, uint64(4), m.Requests)
	assert.Equal(t, 0.0, m.Success)
	assert.Equal(t, 4, m.StatusCodes["500"])
	assert.Equal(t, 4, shop.Hits(http.MethodGet, FruitPath))
}

func TestFruitConnectionRefusedIsCounted(t *testing.T) {
	srv := httptest.NewServer(mockservice.New(false))
	target := srv.URL
	srv.Close()
	r := fruitRunner(t, target, closedFruit(1, 2))

	report := r.Run(context.Background())

	m := report.Metrics[FruitLabel]
	require.NotNil(t, m)
	assert.Equal(t, uint64(2), m.Requests)
	assert.Equal(t, 0.0, m.Success)
	assert.NotEmpty(t, m.Errors)
}

func TestAttackerFromName(t *testing.T) {
	a, err := AttackerFromName(FruitLabel)
	require.NoError(t, err)
	assert.NotNil(t, a)

	_, err = AttackerFromName("vegetable")
	assert.Error(t, err)

	_, isWaitTimer := interface{}(new(FruitAttack)).(shopload.WaitTimer)
	assert.False(t, isWaitTimer)
	assert.Nil(t, CheckFromName(FruitLabel))
}

const suiteYaml = `http_timeout: 2
steps:
  - name: fruit
    execution_mode: sequence
    handles:
      - name: fruit
        system_mode: closed
        users: 2
        iterations: 3
        do_timeout_sec: 2
`

const generatorYaml = `generator:
  target: %s
  await_target_sec: 2
report_dir: %s
results_csv: %s
logging:
  level: error
`

func writeConfigs(t *testing.T, target string) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	suite := filepath.Join(dir, "suite.yaml")
	gen := filepath.Join(dir, "generator.yaml")
	reports := filepath.Join(dir, "reports")
	require.NoError(t, ioutil.WriteFile(suite, []byte(suiteYaml), 0644))
	require.NoError(t, ioutil.WriteFile(gen, []byte(fmt.Sprintf(generatorYaml, target, reports, filepath.Join(dir, "results.csv"))), 0644))
	return suite, gen, reports
}

func TestRunSuiteEndToEnd(t *testing.T) {
	shop, target := startShop(t)
	suite, gen, reports := writeConfigs(t, target)

	lm, err := shopload.RunWithOptions(context.Background(), AttackerFromName, CheckFromName, AwaitTarget, nil, shopload.SuiteOptions{
		SuiteConfigPath:     suite,
		GeneratorConfigPath: gen,
		Users:               1,
		NoColor:             true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, shop.Hits(http.MethodGet, FruitPath))
	rep, ok := lm.Report(FruitLabel)
	require.True(t, ok)
	assert.Equal(t, uint64(3), rep.Metrics[FruitLabel].Requests)
	assert.FileExists(t, filepath.Join(reports, FruitLabel+"_last"))
}

func TestRunSuiteProbeOnly(t *testing.T) {
	shop, target := startShop(t)
	suite, gen, reports := writeConfigs(t, target)

	_, err := shopload.RunWithOptions(context.Background(), AttackerFromName, CheckFromName, nil, nil, shopload.SuiteOptions{
		SuiteConfigPath:     suite,
		GeneratorConfigPath: gen,
		Probe:               2,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, shop.Hits(http.MethodGet, FruitPath))
	assert.NoFileExists(t, filepath.Join(reports, FruitLabel+"_last"))
}

func TestAwaitTarget(t *testing.T) {
	_, target := startShop(t)
	cfg := &shopload.GeneratorConfig{}
	cfg.Generator.Target = target
	assert.NoError(t, AwaitTarget(cfg))

	cfg.Generator.AwaitTargetSec = 1
	assert.NoError(t, AwaitTarget(cfg))

	srv := httptest.NewServer(mockservice.New(false))
	srv.Close()
	cfg.Generator.Target = srv.URL
	start := time.Now()
	assert.Error(t, AwaitTarget(cfg))
	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
}

type fakeRecorder struct {
	successes int
	failures  []string
}

func (f *fakeRecorder) RecordSuccess(requestType, name string, responseTime int64, responseLength int64) {
	f.successes++
}

func (f *fakeRecorder) RecordFailure(requestType, name string, responseTime int64, exception string) {
	f.failures = append(f.failures, exception)
}

func TestBoomerTask(t *testing.T) {
	shop, target := startShop(t)
	rec := &fakeRecorder{}
	task, err := NewBoomerTask(target, 2, rec)
	require.NoError(t, err)
	assert.Equal(t, FruitLabel, task.Name)

	task.Fn()
	assert.Equal(t, 1, rec.successes)

	shop.FailWith(http.StatusServiceUnavailable)
	task.Fn()
	assert.Equal(t, []string{"status 503"}, rec.failures)
	assert.Equal(t, 2, shop.Hits(http.MethodGet, FruitPath))
	assertFruitRequests(t, shop)

	_, err = NewBoomerTask("not a url", 2, rec)
	assert.Error(t, err)
}

func TestBoomerTaskKeepsNoCookies(t *testing.T) {
	var mu sync.Mutex
	var cookies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cookies = append(cookies, r.Header.Get("Cookie"))
		mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "cart", Value: "1", Path: "/"})
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	task, err := NewBoomerTask(srv.URL, 2, rec)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		task.Fn()
	}

	assert.Equal(t, 3, rec.successes)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "", ""}, cookies)
}
