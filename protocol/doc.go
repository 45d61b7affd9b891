package protocol

// This package implements building and validating the messages exchanged with
// the backup service of a device, once a device link has been opened to it.
//
// The device link carries three kinds of traffic over the same connection
//
// - `Envelope` - A dictionary carrying a `MessageName` plus payload fields.
//                Envelopes travel inside a `DLMessageProcessMessage`.
// - `Status Response` - A fixed four element array sent by the client to
//                       acknowledge a device link operation.
// - `Raw bytes` - File contents streamed after a higher level exchange has
//                 agreed on what is being transferred. These never pass
//                 through this package.
//
// === Handshake
//
// Before anything else the client proposes the protocol versions it supports,
// in order of preference
//
//   ```
//     > {MessageName: "Hello", SupportedProtocolVersions: [2.0, 2.1]}
//     < {MessageName: "Response", ErrorCode: 0, ProtocolVersion: 2.1}
//   ```
//
// A non zero `ErrorCode`, or a reply without a real `ProtocolVersion`, fails
// the handshake.
//
// === Requests
//
//   ```
//     > {MessageName: <verb>, TargetIdentifier: <udid>, SourceIdentifier?: <udid>, Options?: {...}}
//   ```
//
// Where `<verb>` is one of `Backup`, `Restore`, `Info` or `List`.
//
// === Status responses
//
//   ```
//     > ["DLMessageStatusResponse", <code>, <message>, <detail>]
//   ```
//
// The device indexes the array by position so absent values are never omitted,
// they are sent as the literal `___EmptyParameterString___` instead.
//
