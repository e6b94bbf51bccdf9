// Package roomsync держит согласованный состав комнаты: снапшот с сервера
// плюс живые дельты, упорядоченные буфером и дополненные дозапросом пропусков.
package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/sequence"
)

var (
	ErrAlreadyStarted = errors.New("synchronizer already started")
	ErrDestroyed      = errors.New("synchronizer destroyed")
)

// RoomAPI - запросы снапшота и диапазона дельт
type RoomAPI interface {
	Snapshot(ctx context.Context, roomID uuid.UUID) (models.Snapshot, error)
	Deltas(ctx context.Context, roomID uuid.UUID, fromSeq, toSeq int64) ([]models.Delta, error)
}

type backfillResult struct {
	fromSeq int64
	toSeq   int64
	deltas  []models.Delta
	err     error
}

type gapRange struct {
	from, to int64
}

type snapshotResult struct {
	snap models.Snapshot
	err  error
}

type Synchronizer struct {
	api    RoomAPI
	logger *slog.Logger

	in       chan []models.Delta
	seeded   chan snapshotResult
	backfill chan backfillResult

	feed *Feed

	startOnce   sync.Once
	destroyOnce sync.Once
	started     bool
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	wg          sync.WaitGroup

	// Ниже - состояние, которым владеет только горутина run.
	roomID      uuid.UUID
	current     *models.Snapshot
	buf         *sequence.Buffer[models.Delta]
	fetchingGap bool
	// дозапрос этого диапазона вернулся, но пропуск не закрыл;
	// повторяем его только после новой живой дельты
	exhausted *gapRange
	fatal     error
}

func New(api RoomAPI) *Synchronizer {
	s := &Synchronizer{
		api:      api,
		logger:   slog.Default(),
		in:       make(chan []models.Delta, 64),
		seeded:   make(chan snapshotResult, 1),
		backfill: make(chan backfillResult, 1),
		feed:     NewFeed(),
		done:     make(chan struct{}),
	}

	// Якорь всегда берется из текущего снапшота: после применения дельты
	// он уже сдвинут, поэтому следующая оценка видит свежий номер.
	buf, err := sequence.New(
		models.DeltaSeq,
		sequence.WithAnchorProvider[models.Delta](s.anchor),
		sequence.WithGapHandler(s.onGap),
	)
	if err != nil {
		panic(fmt.Sprintf("roomsync: build reorder buffer: %v", err))
	}

	s.buf = buf

	return s
}

// Start запускает синхронизацию комнаты и возвращает поток снапшотов.
func (s *Synchronizer) Start(ctx context.Context, roomID uuid.UUID) (*Feed, error) {
	err := ErrAlreadyStarted

	s.startOnce.Do(func() {
		err = nil

		s.ctx, s.cancel = context.WithCancel(ctx)
		s.started = true
		s.roomID = roomID
		s.logger = s.logger.With(slog.String(constant.RoomID, roomID.String()))

		s.wg.Add(2)
		go s.fetchSnapshot(s.ctx)
		go s.run(s.ctx)
	})

	if err != nil {
		return nil, err
	}

	return s.feed, nil
}

// HandleDelta передает дельту из живого канала. Порядок и дубликаты не важны.
func (s *Synchronizer) HandleDelta(ctx context.Context, deltas ...models.Delta) error {
	if len(deltas) == 0 {
		return nil
	}

	select {
	case <-s.done:
		return ErrDestroyed
	default:
	}

	select {
	case s.in <- deltas:
		return nil
	case <-s.done:
		return ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed возвращает поток снапшотов.
func (s *Synchronizer) Feed() *Feed {
	return s.feed
}

// Done закрывается, когда синхронизация остановлена.
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Err возвращает фатальную ошибку, остановившую синхронизацию.
func (s *Synchronizer) Err() error {
	return s.feed.Err()
}

// Destroy останавливает синхронизацию и дожидается всех горутин.
func (s *Synchronizer) Destroy() {
	s.startOnce.Do(func() {})

	s.destroyOnce.Do(func() {
		if !s.started {
			s.feed.close(nil)
			close(s.done)
			return
		}

		s.cancel()
	})

	s.wg.Wait()
}

func (s *Synchronizer) fetchSnapshot(ctx context.Context) {
	defer s.wg.Done()

	snap, err := s.api.Snapshot(ctx, s.roomID)

	select {
	case s.seeded <- snapshotResult{snap: snap, err: err}:
	case <-ctx.Done():
	}
}

func (s *Synchronizer) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.feed.close(s.fatal)
			return

		case res := <-s.seeded:
			if res.err != nil {
				s.stop(fmt.Errorf("fetch initial snapshot: %w", res.err))
				return
			}

			s.seed(res.snap)

		case deltas := <-s.in:
			s.exhausted = nil
			s.ingest(deltas)

		case res := <-s.backfill:
			s.fetchingGap = false
			metric.RecordBackfill(res.err)

			if res.err != nil {
				// Транзиентная ошибка: сам не ретраим, следующий пропуск запустит новый запрос
				s.logger.Error(
					"backfill deltas",
					slog.Int64(constant.FromSeq, res.fromSeq),
					slog.Int64(constant.ToSeq, res.toSeq),
					slog.Any(constant.Error, res.err),
				)
			} else {
				s.exhausted = &gapRange{from: res.fromSeq, to: res.toSeq}
				s.ingest(res.deltas)
			}
		}

		if s.fatal != nil {
			s.stop(s.fatal)
			return
		}
	}
}

func (s *Synchronizer) stop(err error) {
	s.fatal = err

	s.logger.Error("room synchronization stopped", slog.Any(constant.Error, err))

	s.feed.close(err)
	s.cancel()
}

func (s *Synchronizer) seed(snap models.Snapshot) {
	s.current = &snap
	s.feed.publish(snap)

	s.logger.Debug("room snapshot seeded", slog.Int64(constant.Seq, snap.Seq()))

	s.apply(s.buf.Evaluate())
}

// ingest - единая точка входа для живых и дозапрошенных дельт.
// Уже пришедшие в канал пачки забираются сразу, чтобы оценить буфер один раз.
func (s *Synchronizer) ingest(deltas []models.Delta) {
	s.buf.Add(deltas...)

	for drained := false; !drained; {
		select {
		case next := <-s.in:
			s.exhausted = nil
			s.buf.Add(next...)
		default:
			drained = true
		}
	}

	if s.current == nil {
		return
	}

	s.apply(s.buf.Evaluate())
}

// apply применяет серию и сдвигает снапшот. Вызывается только из run,
// поэтому применение и чтение якоря для следующей дельты не пересекаются.
func (s *Synchronizer) apply(run []models.Delta) {
	for _, delta := range run {
		next, err := s.current.Apply(delta)
		if err != nil {
			s.fatal = fmt.Errorf("apply delta: %w", err)
			return
		}

		s.current = &next
		s.feed.publish(next)

		metric.RecordDelta(string(delta.Kind))
	}
}

func (s *Synchronizer) anchor() int64 {
	return s.current.Seq()
}

// onGap запускает не более одного дозапроса одновременно и не повторяет
// диапазон, который сервер уже вернул без нужных дельт.
func (s *Synchronizer) onGap(fromSeq, toSeq int64, _ []models.Delta) {
	if s.fetchingGap {
		return
	}

	from, to := fromSeq+1, toSeq-1

	if s.exhausted != nil && *s.exhausted == (gapRange{from: from, to: to}) {
		s.logger.Debug(
			"gap still open after backfill, waiting for live deltas",
			slog.Int64(constant.FromSeq, from),
			slog.Int64(constant.ToSeq, to),
		)

		return
	}

	s.fetchingGap = true

	s.logger.Info(
		"gap detected, backfilling deltas",
		slog.Int64(constant.FromSeq, from),
		slog.Int64(constant.ToSeq, to),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		deltas, err := s.api.Deltas(s.ctx, s.roomID, from, to)

		select {
		case s.backfill <- backfillResult{fromSeq: from, toSeq: to, deltas: deltas, err: err}:
		case <-s.ctx.Done():
		}
	}()
}
