package raft

import (
	"sync"
	"time"
)

// nilRespFuture Future 默认不需要返回值的类型
type nilRespFuture = interface{}

// Future 用于异步提交，Response 会同步返回，可以重复调用
type Future[T any] interface {
	Response() (T, error)
}

// defaultFuture 默认不需要返回值的 Future
type defaultFuture = Future[nilRespFuture]

type defaultDeferResponse = deferResponse[nilRespFuture]

type deferResponse[T any] struct {
	err      error
	once     *sync.Once
	timeout  <-chan time.Time
	errCh    chan error
	response T
}

func (d *deferResponse[_]) init() {
	d.errCh = make(chan error, 1)
	d.once = new(sync.Once)
}

func (d *deferResponse[T]) Response() (T, error) {
	d.once.Do(func() {
		select {
		case d.err = <-d.errCh:
		case <-d.timeout:
			d.err = ErrTimeout
		}
	})
	return d.response, d.err
}

// responded 返回响应结果，在调用该方法后 Response 就会返回，不支持重复调用
func (d *deferResponse[T]) responded(resp T, err error) {
	d.response = resp
	d.errCh <- err
	close(d.errCh)
}

func (d *deferResponse[T]) success() {
	var zero T
	d.responded(zero, nil)
}

func (d *deferResponse[T]) fail(err error) {
	var zero T
	d.responded(zero, err)
}

type ApplyFuture interface {
	IndexFuture
	Future[interface{}]
}

type IndexFuture interface {
	Index() uint64
	Future[nilRespFuture]
}

type LogFuture struct {
	deferResponse[interface{}]
	log *LogEntry
}

func (l *LogFuture) Index() uint64 {
	return l.log.Index
}

type configurationChangeFuture struct {
	LogFuture
	req configurationChangeRequest
}

type verifyFuture struct {
	deferResponse[nilRespFuture]
}

// bootstrapFuture is used to attempt a live bootstrap of the group. See the
// Raft object's BootstrapGroup member function for more details.
type bootstrapFuture struct {
	defaultDeferResponse
	// configuration is the proposed bootstrap configuration to apply.
	configuration GroupConfig
}

type configurationsGetFuture struct {
	deferResponse[configurations]
}

type shutDownFuture struct {
	raft *Raft
}

func (s *shutDownFuture) Response() (nilRespFuture, error) {
	if s.raft == nil {
		return nil, nil
	}
	s.raft.waitShutDown()
	if closer, ok := s.raft.trans.(interface{ Close() error }); ok {
		closer.Close()
	}
	return nil, nil
}

type errFuture[T any] struct {
	err error
}

func (e *errFuture[T]) Index() uint64 {
	return 0
}

func (e *errFuture[T]) Response() (t T, _ error) {
	return t, e.err
}
