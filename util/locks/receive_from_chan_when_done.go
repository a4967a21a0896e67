package locks

// ReceiveFromChanWhenDone takes a blocking function and returns a channel that
// is closed when the function returns.
func ReceiveFromChanWhenDone(callback func()) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		callback()
		close(ch)
	}()
	return ch
}
