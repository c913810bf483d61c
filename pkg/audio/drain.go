package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a synthesis stream is abandoned
// but its producer still has buffered chunks to deliver.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
