package client_test

import (
	"context"
	"errors"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/multierr"

	"github.com/luma/mbackup/client"
	"github.com/luma/mbackup/devicelink"
	"github.com/luma/mbackup/protocol"
)

func helloResponse(code uint64, version float64) []interface{} {
	return processMessage(map[string]interface{}{
		"MessageName":     "Response",
		"ErrorCode":       code,
		"ProtocolVersion": version,
	})
}

var _ = Describe("Conn", func() {
	var (
		link   *fakeLink
		dialer *fakeDialer
		conn   *client.Conn
	)

	BeforeEach(func() {
		link = &fakeLink{}
		dialer = &fakeDialer{link: link}
		conn = client.New(client.Options{Dialer: dialer})
	})

	Describe("Connect()", func() {
		It("opens the link and negotiates the protocol version", func() {
			link.replies = []interface{}{helloResponse(0, 2.1)}

			Expect(conn.Connect(context.Background(), "device", 1234)).To(Succeed())
			Expect(dialer.device).To(Equal("device"))
			Expect(dialer.port).To(Equal(uint16(1234)))
			Expect(conn.ProtocolVersion()).To(Equal(2.1))

			Expect(link.sent).To(Equal([]interface{}{
				processMessage(map[string]interface{}{
					"MessageName":               "Hello",
					"SupportedProtocolVersions": []interface{}{2.0, 2.1},
				}),
			}))
			Expect(link.closes).To(Equal(0))
		})

		It("proposes the configured versions in order", func() {
			conn = client.New(client.Options{Dialer: dialer, SupportedProtocolVersions: []float64{2.1, 2.0}})
			link.replies = []interface{}{helloResponse(0, 2.1)}

			Expect(conn.Connect(context.Background(), "device", 1234)).To(Succeed())
			hello := link.sent[0].([]interface{})[1].(map[string]interface{})
			Expect(hello["SupportedProtocolVersions"]).To(Equal([]interface{}{2.1, 2.0}))
		})

		It("fails with a protocol error when the device rejects the hello", func() {
			link.replies = []interface{}{helloResponse(1, 2.1)}

			err := conn.Connect(context.Background(), "device", 1234)
			Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
			Expect(link.closes).To(Equal(1))

			Expect(conn.SendStatusResponse(0)).To(MatchError(client.ErrNotConnected))
		})

		It("fails with a reply mismatch when the device answers something else", func() {
			link.replies = []interface{}{processMessage(map[string]interface{}{"MessageName": "Goodbye"})}

			err := conn.Connect(context.Background(), "device", 1234)
			Expect(errors.Is(err, protocol.ErrReplyMismatch)).To(BeTrue())
			Expect(link.closes).To(Equal(1))
		})

		It("fails with a protocol error when the version is below the minimum", func() {
			conn = client.New(client.Options{Dialer: dialer, MinProtocolVersion: 2.5})
			link.replies = []interface{}{helloResponse(0, 2.1)}

			err := conn.Connect(context.Background(), "device", 1234)
			Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
			Expect(link.closes).To(Equal(1))
			Expect(conn.ProtocolVersion()).To(Equal(0.0))
		})

		It("reports close failures along with the handshake failure", func() {
			link.replies = []interface{}{helloResponse(1, 2.1)}
			link.closeErr = linkErr(devicelink.ErrMux, errors.New("reset"))

			errs := multierr.Errors(conn.Connect(context.Background(), "device", 1234))
			Expect(errs).To(HaveLen(2))
			Expect(errors.Is(errs[0], protocol.ErrProtocol)).To(BeTrue())
			Expect(errors.Is(errs[1], protocol.ErrTransport)).To(BeTrue())
		})

		It("maps link open failures", func() {
			dialer.err = linkErr(devicelink.ErrBadVersion, nil)
			Expect(errors.Is(conn.Connect(context.Background(), "device", 1234), protocol.ErrTransport)).To(BeTrue())

			dialer.err = linkErr(devicelink.ErrInvalidArg, nil)
			Expect(errors.Is(conn.Connect(context.Background(), "", 0), protocol.ErrInvalidArgument)).To(BeTrue())

			dialer.err = errors.New("no route to device")
			Expect(errors.Is(conn.Connect(context.Background(), "device", 1234), protocol.ErrUnknown)).To(BeTrue())
		})

		It("maps a failed hello receive to a transport error", func() {
			err := conn.Connect(context.Background(), "device", 1234)
			Expect(errors.Is(err, protocol.ErrTransport)).To(BeTrue())
			Expect(errors.Is(err, devicelink.ErrMux)).To(BeTrue())
			Expect(link.closes).To(Equal(1))
		})

		It("bounds the handshake by the context deadline", func() {
			link.replies = []interface{}{helloResponse(0, 2.1)}

			deadline := time.Now().Add(time.Minute)
			ctx, cancel := context.WithDeadline(context.Background(), deadline)
			defer cancel()

			Expect(conn.Connect(ctx, "device", 1234)).To(Succeed())
			Expect(link.deadlines).To(HaveLen(2))
			Expect(link.deadlines[0].Equal(deadline)).To(BeTrue())
			Expect(link.deadlines[1].IsZero()).To(BeTrue())
		})

		It("refuses to connect twice", func() {
			link.replies = []interface{}{helloResponse(0, 2.1)}
			Expect(conn.Connect(context.Background(), "device", 1234)).To(Succeed())

			err := conn.Connect(context.Background(), "device", 1234)
			Expect(errors.Is(err, protocol.ErrInvalidArgument)).To(BeTrue())
			Expect(dialer.opened).To(Equal(1))
		})
	})

	Describe("before Connect()", func() {
		It("rejects every operation", func() {
			Expect(conn.SendRequest(protocol.Info, "UUID-1", "", nil)).To(MatchError(client.ErrNotConnected))
			Expect(conn.SendStatusResponse(0)).To(MatchError(client.ErrNotConnected))
			Expect(conn.SendMessage("Hello", nil)).To(MatchError(client.ErrNotConnected))

			_, err := conn.ExpectMessage("Response")
			Expect(err).To(MatchError(client.ErrNotConnected))

			_, _, err = conn.ReceiveMessage()
			Expect(err).To(MatchError(client.ErrNotConnected))

			_, err = conn.SendRaw([]byte("x"))
			Expect(err).To(MatchError(client.ErrNotConnected))

			_, err = conn.ReceiveRaw(make([]byte, 1))
			Expect(errors.Is(err, protocol.ErrInvalidArgument)).To(BeTrue())

			Expect(conn.Disconnect()).To(Succeed())
		})
	})

	Describe("once connected", func() {
		BeforeEach(func() {
			link.replies = []interface{}{helloResponse(0, 2.1)}
			Expect(conn.Connect(context.Background(), "device", 1234)).To(Succeed())
			link.sent = nil
		})

		Describe("SendRequest()", func() {
			It("sends the request envelope", func() {
				Expect(conn.SendRequest(protocol.Restore, "UUID-1", "UUID-2", map[string]interface{}{"RestoreSystemFiles": false})).To(Succeed())
				Expect(link.sent).To(Equal([]interface{}{
					processMessage(map[string]interface{}{
						"MessageName":      "Restore",
						"TargetIdentifier": "UUID-1",
						"SourceIdentifier": "UUID-2",
						"Options":          map[string]interface{}{"RestoreSystemFiles": false},
					}),
				}))
			})

			It("requires a target identifier", func() {
				err := conn.SendRequest(protocol.Backup, "", "UUID-2", map[string]interface{}{"ForceFullBackup": true})
				Expect(errors.Is(err, protocol.ErrInvalidArgument)).To(BeTrue())
				Expect(link.sent).To(BeEmpty())
			})
		})

		Describe("SendStatusResponse()", func() {
			It("sends empty parameters for absent values", func() {
				Expect(conn.SendStatusResponse(0)).To(Succeed())
				Expect(link.sent).To(Equal([]interface{}{
					[]interface{}{"DLMessageStatusResponse", uint64(0), "___EmptyParameterString___", "___EmptyParameterString___"},
				}))
			})

			It("maps unclassified link failures to unknown errors", func() {
				link.sendErr = errors.New("boom")
				Expect(errors.Is(conn.SendStatusResponse(0), protocol.ErrUnknown)).To(BeTrue())
			})
		})

		Describe("SendMessage()", func() {
			It("sends the options verbatim without a message name", func() {
				Expect(conn.SendMessage("", map[string]interface{}{"MessageName": "Custom"})).To(Succeed())
				Expect(link.sent).To(Equal([]interface{}{
					processMessage(map[string]interface{}{"MessageName": "Custom"}),
				}))
			})

			It("rejects options that are not a dictionary", func() {
				err := conn.SendMessage("Hello", []interface{}{})
				Expect(errors.Is(err, protocol.ErrInvalidArgument)).To(BeTrue())
			})
		})

		Describe("ExpectMessage()", func() {
			It("returns the expected message", func() {
				link.replies = []interface{}{processMessage(map[string]interface{}{"MessageName": "Response", "ErrorCode": uint64(0)})}

				msg, err := conn.ExpectMessage("Response")
				Expect(err).To(Succeed())
				Expect(msg).To(HaveKeyWithValue("ErrorCode", uint64(0)))
			})

			It("returns the message along with a reply mismatch", func() {
				link.replies = []interface{}{processMessage(map[string]interface{}{"MessageName": "Goodbye"})}

				msg, err := conn.ExpectMessage("Response")
				Expect(errors.Is(err, protocol.ErrReplyMismatch)).To(BeTrue())
				Expect(msg).To(Equal(map[string]interface{}{"MessageName": "Goodbye"}))
			})

			It("returns a protocol error and no message without a message name", func() {
				link.replies = []interface{}{processMessage(map[string]interface{}{"ErrorCode": uint64(0)})}

				msg, err := conn.ExpectMessage("Response")
				Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
				Expect(msg).To(BeNil())
			})

			It("returns no message when the receive fails", func() {
				link.replies = []interface{}{[]interface{}{"DLMessagePing"}}

				msg, err := conn.ExpectMessage("Response")
				Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue())
				Expect(msg).To(BeNil())
			})
		})

		Describe("Disconnect()", func() {
			It("closes the link once", func() {
				Expect(conn.Disconnect()).To(Succeed())
				Expect(conn.Disconnect()).To(Succeed())
				Expect(link.closes).To(Equal(1))

				Expect(conn.SendRequest(protocol.Info, "UUID-1", "", nil)).To(MatchError(client.ErrNotConnected))
			})

			It("fails a blocked raw receive instead of waiting for it", func() {
				link.block = make(chan struct{})

				received := make(chan error, 1)
				go func() {
					_, err := conn.ReceiveRaw(make([]byte, 8))
					received <- err
				}()
				Consistently(received, 50*time.Millisecond).ShouldNot(Receive())

				disconnected := make(chan error, 1)
				go func() {
					disconnected <- conn.Disconnect()
				}()
				Eventually(disconnected, 2*time.Second).Should(Receive(BeNil()))

				var err error
				Eventually(received, 2*time.Second).Should(Receive(&err))
				Expect(errors.Is(err, protocol.ErrTransport)).To(BeTrue())

				Expect(link.closes).To(Equal(1))
				Expect(conn.ProtocolVersion()).To(Equal(0.0))
				_, err = conn.ReceiveRaw(make([]byte, 8))
				Expect(err).To(MatchError(client.ErrNotConnected))
			})

			It("fails a blocked message receive instead of waiting for it", func() {
				link.block = make(chan struct{})

				received := make(chan error, 1)
				go func() {
					_, _, err := conn.ReceiveMessage()
					received <- err
				}()
				Consistently(received, 50*time.Millisecond).ShouldNot(Receive())

				Expect(conn.Disconnect()).To(Succeed())

				var err error
				Eventually(received, 2*time.Second).Should(Receive(&err))
				Expect(errors.Is(err, protocol.ErrTransport)).To(BeTrue())
			})

			It("reports close failures but still releases the link", func() {
				link.closeErr = linkErr(devicelink.ErrMux, errors.New("reset"))

				Expect(errors.Is(conn.Disconnect(), protocol.ErrTransport)).To(BeTrue())
				Expect(conn.Disconnect()).To(Succeed())
				Expect(link.closes).To(Equal(1))
			})
		})
	})

	It("runs a backup request exchange", func() {
		ack := processMessage(map[string]interface{}{
			"MessageName":      "Response",
			"ErrorCode":        uint64(0),
			"ErrorDescription": "",
		})
		link.replies = []interface{}{helloResponse(0, 2.1), ack}

		Expect(conn.Connect(context.Background(), "device", 62078)).To(Succeed())
		Expect(conn.ProtocolVersion()).To(Equal(2.1))

		Expect(conn.SendRequest(protocol.Backup, "UUID-1", "", map[string]interface{}{"ForceFullBackup": true})).To(Succeed())
		Expect(link.sent[1]).To(Equal(processMessage(map[string]interface{}{
			"MessageName":      "Backup",
			"TargetIdentifier": "UUID-1",
			"Options":          map[string]interface{}{"ForceFullBackup": true},
		})))

		msg, name, err := conn.ReceiveMessage()
		Expect(err).To(Succeed())
		Expect(name).To(Equal("DLMessageProcessMessage"))
		Expect(msg).To(Equal(ack))

		Expect(conn.Disconnect()).To(Succeed())
		Expect(conn.Disconnect()).To(Succeed())
		Expect(link.closes).To(Equal(1))
	})
})

// silentDevice accepts one device link on ln and then never answers.
func silentDevice(ln net.Listener) <-chan *devicelink.Conn {
	devices := make(chan *devicelink.Conn, 1)

	go func() {
		defer GinkgoRecover()

		nc, err := ln.Accept()
		if err != nil {
			return
		}

		device, err := devicelink.Accept(context.Background(), nc, devicelink.VersionMajor, devicelink.VersionMinor, nil)
		if err != nil {
			return
		}
		devices <- device
	}()

	return devices
}

var _ = Describe("Conn over TCP", func() {
	var (
		ln      net.Listener
		devices <-chan *devicelink.Conn
		conn    *client.Conn
	)

	connect := func(ctx context.Context) error {
		return conn.Connect(ctx, "127.0.0.1", uint16(ln.Addr().(*net.TCPAddr).Port))
	}

	BeforeEach(func() {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())

		devices = silentDevice(ln)
		conn = client.New(client.Options{})
	})

	AfterEach(func() {
		var device *devicelink.Conn
		Eventually(devices, 2*time.Second).Should(Receive(&device))
		device.Close()
		ln.Close()
	})

	It("gives up on the handshake when the deadline passes", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := connect(ctx)
		Expect(errors.Is(err, protocol.ErrTransport)).To(BeTrue())
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		Expect(conn.ProtocolVersion()).To(Equal(0.0))
	})

	It("gives up on the handshake when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(200*time.Millisecond, cancel)

		start := time.Now()
		err := connect(ctx)
		Expect(errors.Is(err, protocol.ErrTransport)).To(BeTrue())
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
	})
})
