package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// Store хранит всё состояние в памяти под одним мьютексом.
// Within сериализует транзакции и откатывает состояние к снимку при ошибке.
// Внутри Within обращаться к хранилищу можно только через переданный Tx.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Within выполняет fn атомарно относительно остальных операций хранилища.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
		s.mu.Unlock()
	}()

	if err := fn(ctx, view{s: s, locked: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

// Rooms возвращает репозиторий номеров вне транзакции.
func (s *Store) Rooms() domain.RoomRepository { return view{s: s}.Rooms() }

// Bookings возвращает репозиторий броней вне транзакции.
func (s *Store) Bookings() domain.BookingRepository { return view{s: s}.Bookings() }

// Guests возвращает репозиторий гостей вне транзакции.
func (s *Store) Guests() domain.GuestRepository { return view{s: s}.Guests() }

// Mappings возвращает таблицу соответствий вне транзакции.
func (s *Store) Mappings() domain.ChannelMappingRepository { return view{s: s}.Mappings() }

// Inbound возвращает хранилище входящих событий вне транзакции.
func (s *Store) Inbound() domain.InboundRepository { return view{s: s}.Inbound() }

// Outbound возвращает хранилище исходящих событий вне транзакции.
func (s *Store) Outbound() domain.OutboundRepository { return view{s: s}.Outbound() }

// Folios возвращает репозиторий счетов вне транзакции.
func (s *Store) Folios() domain.FolioRepository { return view{s: s}.Folios() }

// Timeline возвращает журнал событий броней вне транзакции.
func (s *Store) Timeline() domain.TimelineRepository { return view{s: s}.Timeline() }

// Ping всегда успешен, нужен для health-проверок.
func (s *Store) Ping(context.Context) error { return nil }

// view привязывает репозитории к хранилищу. locked=true означает, что мьютекс уже взят Within.
type view struct {
	s      *Store
	locked bool
}

func (v view) Rooms() domain.RoomRepository { return roomRepository{v} }
func (v view) Bookings() domain.BookingRepository { return bookingRepository{v} }
func (v view) Guests() domain.GuestRepository { return guestRepository{v} }
func (v view) Mappings() domain.ChannelMappingRepository { return mappingRepository{v} }
func (v view) Inbound() domain.InboundRepository { return inboundRepository{v} }
func (v view) Outbound() domain.OutboundRepository { return outboundRepository{v} }
func (v view) Folios() domain.FolioRepository { return folioRepository{v} }
func (v view) Timeline() domain.TimelineRepository { return timelineRepository{v} }

// enter берёт мьютекс, если вызов пришёл не из транзакции, и возвращает текущее состояние.
func (v view) enter() (*state, func()) {
	if v.locked {
		return v.s.state, func() {}
	}
	v.s.mu.Lock()
	return v.s.state, v.s.mu.Unlock
}

func (v view) now() time.Time {
	return v.s.now()
}

type state struct {
	seq      int64
	rooms    map[string]domain.Room
	bookings map[string]domain.Booking
	guests   map[string]domain.Guest
	mappings map[string]mappingRecord
	inbound  map[string]inboundRecord
	outbound map[string]outboundRecord
	folios   map[string]folioRecord
	timeline map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		rooms:    make(map[string]domain.Room),
		bookings: make(map[string]domain.Booking),
		guests:   make(map[string]domain.Guest),
		mappings: make(map[string]mappingRecord),
		inbound:  make(map[string]inboundRecord),
		outbound: make(map[string]outboundRecord),
		folios:   make(map[string]folioRecord),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

// next возвращает монотонный порядковый номер вставки.
func (st *state) next() int64 {
	st.seq++
	return st.seq
}

// clone делает снимок для отката. Срезы копируются, чтобы изменения в транзакции не протекали в снимок.
func (st *state) clone() *state {
	out := newState()
	out.seq = st.seq
	for k, v := range st.rooms {
		out.rooms[k] = v
	}
	for k, v := range st.bookings {
		out.bookings[k] = cloneBooking(v)
	}
	for k, v := range st.guests {
		out.guests[k] = v
	}
	for k, v := range st.mappings {
		out.mappings[k] = v
	}
	for k, v := range st.inbound {
		out.inbound[k] = v
	}
	for k, v := range st.outbound {
		v.Payload = append([]byte(nil), v.Payload...)
		out.outbound[k] = v
	}
	for k, v := range st.folios {
		out.folios[k] = v
	}
	for k, v := range st.timeline {
		out.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	return out
}

func cloneBooking(b domain.Booking) domain.Booking {
	b.Segments = append([]domain.Segment(nil), b.Segments...)
	return b
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = view{}
)
