package errors

// WrapOpComponent wraps an error with consistent Op and Component propagation.
// It avoids repetition when creating structured errors throughout the codebase.
// If err is nil, returns nil. An existing *StorageError is passed through so
// the original code and retryability survive wrapping layers.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if As(err, &se) {
		return err
	}
	return &StorageError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// WrapKey is like WrapOpComponent but also records the storage key involved.
func WrapKey(err error, op Operation, component, key string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if As(err, &se) {
		return err
	}
	return &StorageError{
		Op:        op,
		Component: component,
		Key:       key,
		Err:       err,
	}
}
