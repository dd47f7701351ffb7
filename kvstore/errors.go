package kvstore

import "omniproto.dev/omni/omnierr"

var (
	errAnonymousWrite   = omnierr.MustDefine(10100, "AnonymousWrite", "Anonymous senders cannot write.")
	errKeyNotFound      = omnierr.MustDefine(10101, "KeyNotFound", "Key not found.")
	errInvalidArgument  = omnierr.MustDefine(10102, "InvalidArgument", "Invalid argument: {reason}.", "reason")
	errPermissionDenied = omnierr.MustDefine(10103, "PermissionDenied", "Key is owned by {owner}.", "owner")
)

// Errors lists the application errors this module can return.
func Errors() []omnierr.Definition {
	return []omnierr.Definition{errAnonymousWrite, errKeyNotFound, errInvalidArgument, errPermissionDenied}
}
