package agentroom

// Ptr is a utility function that returns a pointer to the given value.
// This is useful for setting optional fields in structs that require
// pointers.
//
// Example usage:
//
//	lang := agentroom.Ptr("en-US")
func Ptr[T any](v T) *T { return &v }
