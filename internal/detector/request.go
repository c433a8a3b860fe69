package detector

import (
	"context"

	"github.com/ayusman/mudra/internal/capture"
)

// Request is the handle for one accepted submission. It resolves exactly
// once, with either a Result or an error.
type Request struct {
	kind  Kind
	frame *capture.Frame
	done  chan struct{}
	res   Result
	err   error
}

func newRequest(kind Kind, frame *capture.Frame) *Request {
	return &Request{
		kind:  kind,
		frame: frame,
		done:  make(chan struct{}),
	}
}

// Kind returns the detector kind that accepted the request.
func (r *Request) Kind() Kind { return r.kind }

// Frame returns the submitted frame.
func (r *Request) Frame() *capture.Frame { return r.frame }

// Done is closed once the request has resolved and all callbacks have run.
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the request resolves or ctx is done.
func (r *Request) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve stores the outcome and closes done. Called once by the adapter.
func (r *Request) resolve(res Result, err error) {
	r.res = res
	r.err = err
	close(r.done)
}
