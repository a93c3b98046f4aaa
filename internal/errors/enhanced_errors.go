package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mantonx/vvf/internal/logger"
)

// StackFrame represents a single frame in a stack trace
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Package  string `json:"package"`
}

// PanicError is the cause attached to a LoadError when extension code panics.
type PanicError struct {
	Value      interface{}  `json:"value"`
	StackTrace []StackFrame `json:"stack_trace,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Top returns the innermost frame that is not part of the runtime.
func (p *PanicError) Top() (StackFrame, bool) {
	for _, f := range p.StackTrace {
		if f.Package != "runtime" {
			return f, true
		}
	}
	return StackFrame{}, false
}

// FromPanic turns a recovered value into a LoadError for extensionID.
// It must be called from the deferred function that recovered.
func FromPanic(extensionID, operation string, recovered interface{}) *VVFError {
	p := &PanicError{
		Value:      recovered,
		StackTrace: captureStackTrace(3, 32),
		Timestamp:  time.Now(),
	}
	e := NewLoadError(extensionID, operation, p)
	if top, ok := p.Top(); ok {
		e.Context["at"] = fmt.Sprintf("%s:%d", top.File, top.Line)
	}
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip, maxDepth int) []StackFrame {
	frames := make([]StackFrame, 0)

	for i := skip; i < skip+maxDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		funcName := fn.Name()

		var packageName string
		if lastSlash := strings.LastIndex(funcName, "/"); lastSlash >= 0 {
			if lastDot := strings.Index(funcName[lastSlash:], "."); lastDot >= 0 {
				packageName = funcName[:lastSlash+lastDot]
				funcName = funcName[lastSlash+lastDot+1:]
			}
		} else if lastDot := strings.Index(funcName, "."); lastDot >= 0 {
			packageName = funcName[:lastDot]
			funcName = funcName[lastDot+1:]
		}

		frames = append(frames, StackFrame{
			Function: funcName,
			File:     file,
			Line:     line,
			Package:  packageName,
		})
	}

	return frames
}

// RequestIDMiddleware tags every request with an id for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RecoveryMiddleware converts handler panics into INTERNAL_ERROR responses.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		frames := captureStackTrace(3, 16)
		logger.Error("panic recovered", "path", c.Request.URL.Path, "panic", recovered, "frames", len(frames))
		NewInternalError("Panic recovered", fmt.Errorf("%v", recovered)).ToGinResponse(c)
	})
}
