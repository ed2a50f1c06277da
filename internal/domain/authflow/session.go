// Логин-сессия и её хранилище. Сессия — единственное разделяемое изменяемое
// состояние ядра; все read-modify-write последовательности выполняются под
// одним мьютексом хранилища. Фаза сессии хранится явным тегом состояния, а не
// выводится из наличия записей в картах.

package authflow

import (
	"context"
	"sync"
	"time"
)

// State — фаза незавершённой логин-сессии.
type State int

const (
	// StateCodeRequested — код отправлен, ждём подтверждения.
	StateCodeRequested State = iota + 1
	// StatePasswordRequired — код принят, аккаунту нужен облачный пароль.
	StatePasswordRequired
)

func (s State) String() string {
	switch s {
	case StateCodeRequested:
		return "code_requested"
	case StatePasswordRequired:
		return "password_required"
	default:
		return "unknown"
	}
}

// Session — сессия логина по одному номеру. Владение эксклюзивное: после
// Remove/Put-замены ответственность за закрытие Handle переходит к
// вызывающему; до этого Handle не закрывается.
type Session struct {
	Phone          string       // канонический ключ
	Handle         ClientHandle // живое соединение со сторонним сервисом
	CodeHash       string       // opaque-хэш верификации из RequestCode
	ExternalUserID string
	State          State
	CreatedAt      time.Time
}

// DisposeFunc вызывается хранилищем для сессий, вытесненных по TTL или при
// остановке. Получатель обязан закрыть Handle.
type DisposeFunc func(*Session)

// StoreOptions — параметры хранилища.
type StoreOptions struct {
	// TTL ограничивает время жизни незавершённой сессии. Ноль — хранить
	// бессрочно (в бою не используется: карта без вытеснения течёт).
	TTL time.Duration
	// Dispose принимает вытесненные сессии. Nil допустим в тестах.
	Dispose DisposeFunc
	// Now — источник времени; по умолчанию time.Now. Инъекция для тестов.
	Now func() time.Time
}

// Store — потокобезопасная карта phone → *Session. Один мьютекс на карту:
// объёмы запросов не оправдывают по-ключевых блокировок, а атомарность
// проверь-затем-создай и смены фазы обязана выполняться в одном критическом
// участке.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	dispose  DisposeFunc
	now      func() time.Time

	runMu  sync.Mutex         // защищает старт/остановку фоновой очистки
	cancel context.CancelFunc // завершает цикл очистки
	wg     sync.WaitGroup
}

// sweepPeriod — период фонового вытеснения просроченных сессий.
const sweepPeriod = time.Minute

// NewStore создаёт хранилище сессий.
func NewStore(opts StoreOptions) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      opts.TTL,
		dispose:  opts.Dispose,
		now:      now,
	}
}

// Put вставляет или заменяет сессию по её номеру и возвращает предыдущую
// сессию, если она была. Слияния нет: закрыть Handle предыдущей сессии обязан
// вызывающий — иначе соединение утекает.
func (s *Store) Put(sess *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.sessions[sess.Phone]
	s.sessions[sess.Phone] = sess
	return prev
}

// Get возвращает сессию по каноническому номеру. Без побочных эффектов.
func (s *Store) Get(phone string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[phone]
	return sess, ok
}

// Detach отцепляет именно эту сессию от хранилища. Сверка по идентичности, а
// не по ключу: если за время сетевого вызова запись по номеру успели заменить
// (повторный send_phone), чужая сессия не трогается. После true сессия
// недостижима для других задач, поэтому закрытие хэндла происходит ровно один
// раз.
func (s *Store) Detach(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[sess.Phone] != sess {
		return false
	}
	delete(s.sessions, sess.Phone)
	return true
}

// SetState меняет фазу сессии атомарно под мьютексом хранилища. Возвращает
// false, если сессия уже вытеснена или заменена: фаза чужой сессии не
// переключается.
func (s *Store) SetState(sess *Session, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[sess.Phone] != sess {
		return false
	}
	sess.State = state
	return true
}

// FindByUser ищет сессию по идентификатору пользователя сайта. Запросы
// send_code/send_password могут приходить без номера — тогда номер
// восстанавливается по владельцу сессии. Линейный проход: карта мала.
func (s *Store) FindByUser(externalUserID string) (*Session, bool) {
	if externalUserID == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.ExternalUserID == externalUserID {
			return sess, true
		}
	}
	return nil, false
}

// Len возвращает число незавершённых сессий.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Start поднимает фоновую горутину вытеснения просроченных сессий. Повторные
// вызовы безопасны и игнорируются.
func (s *Store) Start(ctx context.Context) {
	if ctx == nil || s.ttl <= 0 {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Go(func() {
		ticker := time.NewTicker(sweepPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	})
}

// Stop завершает фоновую очистку и дожидается её окончания.
func (s *Store) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Sweep вытесняет сессии старше TTL и передаёт их Dispose. Утилизация
// выполняется вне критического участка: Close ходит в сеть.
func (s *Store) Sweep() {
	if s.ttl <= 0 {
		return
	}

	var expired []*Session
	deadline := s.now().Add(-s.ttl)

	s.mu.Lock()
	for phone, sess := range s.sessions {
		if sess.CreatedAt.Before(deadline) {
			delete(s.sessions, phone)
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		if s.dispose != nil {
			s.dispose(sess)
		}
	}
}

// Drain отцепляет все сессии и возвращает их для утилизации. Используется при
// shutdown, чтобы не оставить живых соединений.
func (s *Store) Drain() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Session, 0, len(s.sessions))
	for phone, sess := range s.sessions {
		delete(s.sessions, phone)
		out = append(out, sess)
	}
	return out
}
