// Package errors provides standardized error handling for the tab-mark
// synchronizer.
//
// Errors fall into three classes: Transient (the durable store or the
// sidebar was temporarily unreachable, retry or degrade), Invalid (bad
// arguments such as an unknown state name, a programmer error that must
// surface immediately) and Fatal (unrecoverable, stop the component).
// Transient I/O failures at the cache and sidebar layers are caught,
// logged with context and converted to boolean success signals; Invalid
// errors propagate to the immediate caller.
//
// All wrapping follows the "component.method: action failed: %w"
// format and preserves classification through errors.Is / errors.As
// chains:
//
//	if err := notifier.NotifyState(ctx, tabs, states, true); err != nil {
//	    return errors.WrapTransient(err, "StateCache", "Set", "notify sidebar")
//	}
package errors
