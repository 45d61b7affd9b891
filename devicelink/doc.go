/*
Package devicelink provides the device link transport used by device services.

A device link is a single TCP connection that carries length prefixed
property lists (a 32 bit big endian size followed by a binary plist) and,
interleaved with them, raw file data. Structured messages are arrays whose
first element names the device link message, e.g.

	["DLMessageProcessMessage", {...}]
	["DLMessageStatusResponse", 0, "___EmptyParameterString___", "___EmptyParameterString___"]
	["DLMessageDisconnect", "___EmptyParameterString___"]

Before any service traffic the device announces its device link version with
DLMessageVersionExchange. The client answers DLVersionsOk unless the device is
newer than it understands, after which the device sends DLMessageDeviceReady.

Both ends of the link are implemented: Dial (and TCPDialer) performs the
client side, Accept the device side.
*/
package devicelink
