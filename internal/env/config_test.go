package env_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/mbackup/internal/env"
)

var _ = Describe("env", func() {
	Describe("LoadConfig()", func() {
		AfterEach(func() {
			os.Unsetenv("MBACKUP_PORT")
			os.Unsetenv("MBACKUP_MIN_PROTOCOL_VERSION")
		})

		It("uses the defaults", func() {
			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())
			Expect(conf.Device).To(Equal("127.0.0.1"))
			Expect(conf.Port).To(Equal(uint16(62078)))
			Expect(conf.MinProtocolVersion).To(Equal(0.0))
			Expect(conf.PeerProtocolVersion).To(Equal(2.1))
		})

		It("reads the environment", func() {
			os.Setenv("MBACKUP_PORT", "5000")
			os.Setenv("MBACKUP_MIN_PROTOCOL_VERSION", "2.1")

			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())
			Expect(conf.Port).To(Equal(uint16(5000)))
			Expect(conf.MinProtocolVersion).To(Equal(2.1))
		})
	})

	Describe("MakeLogger()", func() {
		It("builds a logger", func() {
			log, err := env.MakeLogger(true)
			Expect(err).To(Succeed())
			Expect(log.Core().Enabled(-1)).To(BeTrue())
		})
	})
})
