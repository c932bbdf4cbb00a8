package bootlog

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogWrapperSeverityPrefixes(t *testing.T) {
	var buf bytes.Buffer
	l := logWrapper{Logger: log.New(&buf, "", 0)}

	cases := []struct {
		name string
		call func()
		want string
	}{
		{"info", func() { l.Infof("hello %d", 1) }, "[hagfish][INFO] hello 1\n"},
		{"loadfile", func() { l.LoadFilef("loading %s", "x") }, "[hagfish][LOADFILE] loading x\n"},
		{"net", func() { l.Netf("dhcp ack") }, "[hagfish][NET] dhcp ack\n"},
		{"warn", func() { l.Warnf("careful") }, "[hagfish][WARN] careful\n"},
		{"error", func() { l.Errorf("bad") }, "[hagfish][ERROR] bad\n"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf.Reset()
			c.call()
			assert.Equal(t, c.want, buf.String())
		})
	}
}

func TestDefaultLoggerIsSet(t *testing.T) {
	assert.NotNil(t, DefaultLogger)
}
