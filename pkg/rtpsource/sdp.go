package rtpsource

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	psdp "github.com/pion/sdp/v3"
)

// FromMediaDescription fills the stream configuration from the fmtp
// attribute of a SDP media description (RFC 3640, section 4.1).
func (s *Source) FromMediaDescription(md *psdp.MediaDescription) error {
	v, ok := md.Attribute("fmtp")
	if !ok {
		return fmt.Errorf("fmtp attribute is missing")
	}

	tmp := strings.SplitN(v, " ", 2)
	if len(tmp) != 2 {
		return fmt.Errorf("invalid fmtp (%v)", v)
	}

	for _, kv := range strings.Split(tmp[1], ";") {
		kv = strings.Trim(kv, " ")

		if len(kv) == 0 {
			continue
		}

		tmp := strings.SplitN(kv, "=", 2)
		if len(tmp) != 2 {
			return fmt.Errorf("invalid fmtp (%v)", v)
		}
		key := strings.ToLower(tmp[0])
		val := tmp[1]

		switch key {
		case "mode":
			if strings.ToLower(val) != "aac-hbr" && strings.ToLower(val) != "aac_hbr" {
				return fmt.Errorf("unsupported AAC mode: %v", val)
			}

		case "config":
			enc, err := hex.DecodeString(val)
			if err != nil {
				return fmt.Errorf("invalid AAC config (%v)", val)
			}

			s.Config = &mpeg4audio.Config{}
			err = s.Config.Unmarshal(enc)
			if err != nil {
				return fmt.Errorf("invalid AAC config (%v)", val)
			}

		case "sizelength":
			n, err := strconv.ParseUint(val, 10, 31)
			if err != nil || n > 100 {
				return fmt.Errorf("invalid AAC SizeLength (%v)", val)
			}
			s.SizeLength = int(n)

		case "indexlength":
			n, err := strconv.ParseUint(val, 10, 31)
			if err != nil || n > 100 {
				return fmt.Errorf("invalid AAC IndexLength (%v)", val)
			}
			s.IndexLength = int(n)

		case "indexdeltalength":
			n, err := strconv.ParseUint(val, 10, 31)
			if err != nil || n > 100 {
				return fmt.Errorf("invalid AAC IndexDeltaLength (%v)", val)
			}
			s.IndexDeltaLength = int(n)
		}
	}

	if s.Config == nil {
		return fmt.Errorf("config is missing (%v)", v)
	}

	return nil
}
