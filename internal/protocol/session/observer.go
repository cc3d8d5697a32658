package session

// Observer receives lifecycle notifications from a Session. Calls happen on
// session goroutines, some while the session lock is held, so implementations
// must be fast and must not call back into the Session.
type Observer interface {
	StateChanged(name string, from, to State)
	ConnectAttempt(name, op string, err error)
	MessageSent(name string)
	MessageReceived(name string)
	Teardown(name, cause string, err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, State, State)    {}
func (nopObserver) ConnectAttempt(string, string, error) {}
func (nopObserver) MessageSent(string)                   {}
func (nopObserver) MessageReceived(string)               {}
func (nopObserver) Teardown(string, string, error)       {}
