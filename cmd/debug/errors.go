package debug

// NoInferiorError the command needs a live inferior and there is none
type NoInferiorError struct{}

func (e *NoInferiorError) Error() string {
	return "There is no inferior running"
}
