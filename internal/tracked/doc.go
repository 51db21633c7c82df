// Package tracked wraps a bound document so that every successful mutating
// call is reported to its persistence controller. Object and Array expose the
// document operations, take the controller's content lock for each call, and
// notify only after the underlying operation returned without error.
package tracked
