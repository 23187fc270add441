package supervisor

// cmdError is a user-visible dispatcher error: its Error() text is exactly
// what goes out on the wire after "ERROR: ". Internal plumbing errors use
// plain wrapped stdlib errors instead; only paths that terminate in a
// dispatcher response use cmdError.
type cmdError string

func (e cmdError) Error() string { return string(e) }

func errf(reason string) error { return cmdError(reason) }
