package sideload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/hashicorp/go-hclog"
	plugins "github.com/mantonx/vvf/sdk"
)

// DefaultScriptTimeout bounds every call into a script.
const DefaultScriptTimeout = 10 * time.Second

const maxScriptResponse = 4 << 20

var entryPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

// Script method names per capability kind.
var scriptMethods = map[plugins.CapabilityKind]string{
	plugins.KindDatabase: "search",
	plugins.KindStream:   "loadLinks",
	plugins.KindSubtitle: "loadSubtitles",
}

// scriptExtension bridges a JavaScript object to the capability interfaces.
// A goja runtime is single threaded, so calls are serialised.
type scriptExtension struct {
	id      string
	timeout time.Duration
	logger  hclog.Logger

	mu      sync.Mutex
	vm      *goja.Runtime
	obj     *goja.Object
	client  *http.Client
	callCtx context.Context
	kinds   []plugins.CapabilityKind

	guardMu sync.Mutex
	armed   bool
}

// newScriptExtension evaluates source and binds the global named entryPoint.
// A constructor is instantiated with no arguments; any other object is
// used as is.
func newScriptExtension(id, entryPoint, filename, source string, timeout time.Duration, logger hclog.Logger) (*scriptExtension, error) {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &scriptExtension{
		id:      id,
		timeout: timeout,
		logger:  logger.Named("script").With("id", id),
		vm:      goja.New(),
		client:  http.DefaultClient,
		callCtx: context.Background(),
	}
	s.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	s.vm.SetMaxCallStackSize(1024)
	if err := s.setupGlobals(); err != nil {
		return nil, err
	}

	program, err := goja.Compile(filename, source, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", filename, err)
	}

	err = s.guarded(context.Background(), func() error {
		if _, err := s.vm.RunProgram(program); err != nil {
			return err
		}
		v, err := s.lookupEntry(entryPoint)
		if err != nil {
			return err
		}
		if ctor, ok := goja.AssertConstructor(v); ok {
			obj, err := ctor(nil)
			if err != nil {
				return fmt.Errorf("failed to construct %s: %w", entryPoint, err)
			}
			s.obj = obj
			return nil
		}
		s.obj = v.ToObject(s.vm)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, kind := range plugins.AllKinds {
		if _, ok := goja.AssertFunction(s.obj.Get(scriptMethods[kind])); ok {
			s.kinds = append(s.kinds, kind)
		}
	}
	return s, nil
}

// lookupEntry resolves a global property first, then a dotted identifier
// path, which also reaches top level class and const declarations.
func (s *scriptExtension) lookupEntry(entryPoint string) (goja.Value, error) {
	if v := s.vm.Get(entryPoint); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		return v, nil
	}
	if !entryPattern.MatchString(entryPoint) {
		return nil, fmt.Errorf("script does not define %q", entryPoint)
	}
	v, err := s.vm.RunString("typeof " + entryPoint + " === 'undefined' ? undefined : " + entryPoint)
	if err != nil || v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("script does not define %q", entryPoint)
	}
	return v, nil
}

// setupGlobals removes module loading and exposes console and http helpers.
func (s *scriptExtension) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := s.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := s.vm.NewObject()
	_ = console.Set("log", s.consoleFunc(hclog.Info))
	_ = console.Set("info", s.consoleFunc(hclog.Info))
	_ = console.Set("warn", s.consoleFunc(hclog.Warn))
	_ = console.Set("error", s.consoleFunc(hclog.Error))
	_ = console.Set("debug", s.consoleFunc(hclog.Debug))
	if err := s.vm.Set("console", console); err != nil {
		return err
	}

	httpObj := s.vm.NewObject()
	_ = httpObj.Set("get", s.httpGet)
	return s.vm.Set("http", httpObj)
}

func (s *scriptExtension) consoleFunc(level hclog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.String())
		}
		s.logger.Log(level, fmt.Sprint(args...))
		return goja.Undefined()
	}
}

// httpGet implements http.get(url, headers) -> {status, body}. It runs on
// the calling goroutine, inside the current call.
func (s *scriptExtension) httpGet(call goja.FunctionCall) goja.Value {
	url := call.Argument(0).String()
	req, err := http.NewRequestWithContext(s.callCtx, http.MethodGet, url, nil)
	if err != nil {
		panic(s.vm.NewGoError(err))
	}
	if h := call.Argument(1); !goja.IsUndefined(h) && !goja.IsNull(h) {
		if headers, ok := h.Export().(map[string]interface{}); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprint(v))
			}
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		panic(s.vm.NewGoError(err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptResponse))
	if err != nil {
		panic(s.vm.NewGoError(err))
	}
	return s.vm.ToValue(map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(body),
	})
}

// guarded runs fn with the timeout and ctx wired to vm.Interrupt. The
// interrupt flag is cleared before returning so later calls are unaffected.
func (s *scriptExtension) guarded(ctx context.Context, fn func() error) error {
	s.guardMu.Lock()
	s.armed = true
	s.guardMu.Unlock()

	interrupt := func(reason interface{}) {
		s.guardMu.Lock()
		defer s.guardMu.Unlock()
		if s.armed {
			s.vm.Interrupt(reason)
		}
	}
	timer := time.AfterFunc(s.timeout, func() { interrupt("script timeout exceeded") })
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			interrupt(ctx.Err())
		case <-done:
		}
	}()

	err := fn()

	timer.Stop()
	close(done)
	s.guardMu.Lock()
	s.armed = false
	s.vm.ClearInterrupt()
	s.guardMu.Unlock()

	if ierr, ok := err.(*goja.InterruptedError); ok {
		return fmt.Errorf("script interrupted: %v", ierr.Value())
	}
	return err
}

func (s *scriptExtension) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := goja.AssertFunction(s.obj.Get(method))
	if !ok {
		return fmt.Errorf("script does not implement %s", method)
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = s.vm.ToValue(a)
	}

	s.callCtx = ctx
	defer func() { s.callCtx = context.Background() }()

	var result goja.Value
	err := s.guarded(ctx, func() error {
		var err error
		result, err = fn(s.obj, values...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s.%s: %w", s.id, method, err)
	}
	if out == nil || result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil
	}
	data, err := sonic.Marshal(result.Export())
	if err != nil {
		return fmt.Errorf("%s.%s returned an unencodable value: %w", s.id, method, err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s.%s returned an unexpected shape: %w", s.id, method, err)
	}
	return nil
}

// Init stores the client and calls the script's init(settings) if defined.
func (s *scriptExtension) Init(settings plugins.Settings, client *http.Client) error {
	if client != nil {
		s.mu.Lock()
		s.client = client
		s.mu.Unlock()
	}
	if _, ok := goja.AssertFunction(s.obj.Get("init")); !ok {
		return nil
	}
	return s.call(context.Background(), "init", nil, map[string]string(settings))
}

func (s *scriptExtension) Capabilities() []plugins.CapabilityKind {
	return append([]plugins.CapabilityKind(nil), s.kinds...)
}

func (s *scriptExtension) Search(ctx context.Context, query string) ([]plugins.MediaItem, error) {
	var items []plugins.MediaItem
	err := s.call(ctx, scriptMethods[plugins.KindDatabase], &items, query)
	return items, err
}

func (s *scriptExtension) LoadLinks(ctx context.Context, item plugins.MediaItem) ([]plugins.StreamLink, error) {
	var links []plugins.StreamLink
	err := s.call(ctx, scriptMethods[plugins.KindStream], &links, item)
	return links, err
}

func (s *scriptExtension) LoadSubtitles(ctx context.Context, item plugins.MediaItem) ([]plugins.Subtitle, error) {
	var subs []plugins.Subtitle
	err := s.call(ctx, scriptMethods[plugins.KindSubtitle], &subs, item)
	return subs, err
}
