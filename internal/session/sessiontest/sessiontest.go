// Package sessiontest builds session blobs for tests.
package sessiontest

import (
	"encoding/base64"

	"google.golang.org/protobuf/encoding/protowire"
)

// Blob encodes a session with the given identity and tokens, base64 encoded
// and prefixed with the IDE's version marker.
func Blob(email, plan, accessToken, idToken string) string {
	var auth []byte
	auth = protowire.AppendTag(auth, 1, protowire.BytesType)
	auth = protowire.AppendString(auth, accessToken)
	auth = protowire.AppendTag(auth, 3, protowire.BytesType)
	auth = protowire.AppendString(auth, idToken)

	var ctx []byte
	ctx = protowire.AppendTag(ctx, 3, protowire.BytesType)
	ctx = protowire.AppendString(ctx, plan)
	ctx = protowire.AppendTag(ctx, 7, protowire.BytesType)
	ctx = protowire.AppendString(ctx, email)

	msg := []byte{0x01}
	msg = protowire.AppendTag(msg, 6, protowire.BytesType)
	msg = protowire.AppendBytes(msg, auth)
	msg = protowire.AppendTag(msg, 19, protowire.BytesType)
	msg = protowire.AppendBytes(msg, ctx)

	return base64.StdEncoding.EncodeToString(msg)
}
