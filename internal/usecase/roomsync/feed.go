package roomsync

import (
	"sync"

	"github.com/qrave1/RoomMesh/internal/domain/models"
)

// Feed раздает снапшоты подписчикам. Новый подписчик сразу получает
// последний снапшот, медленный подписчик получает только самый свежий.
type Feed struct {
	mu     sync.Mutex
	latest *models.Snapshot
	subs   map[int]chan models.Snapshot
	nextID int
	closed bool
	err    error
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan models.Snapshot)}
}

// Subscribe возвращает канал снапшотов и функцию отписки.
// Канал закрывается при завершении потока; причину отдает Err.
func (f *Feed) Subscribe() (<-chan models.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan models.Snapshot, 1)

	if f.latest != nil {
		ch <- *f.latest
	}

	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()

			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

// Latest возвращает последний опубликованный снапшот.
func (f *Feed) Latest() (models.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.latest == nil {
		return models.Snapshot{}, false
	}

	return *f.latest, true
}

// Err возвращает фатальную ошибку потока, если он завершился с ошибкой.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

func (f *Feed) publish(snap models.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.latest = &snap

	for _, ch := range f.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (f *Feed) close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.closed = true
	f.err = err

	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
