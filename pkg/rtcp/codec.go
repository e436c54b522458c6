package rtcp

import (
	"fmt"

	"github.com/pion/rtcp"
)

// InboundCompound is a decoded compound packet together with the metadata
// the statistics module needs to fold it in: its wire size (for the
// avg_rtcp_size EWMA) and whether it carried a BYE.
type InboundCompound struct {
	Packets  []rtcp.Packet
	SizeBytes int
	HasBye   bool
	ByeSSRCs []uint32
}

// canHandle classifies a datagram without decoding it, per spec §4.4: RTCP
// version must be 2, the payload type of the first sub-packet must be SR
// (200) or RR (201), and the padding bit on that first header must be
// clear.
func canHandle(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	version := buf[0] >> 6
	padding := buf[0]&0x20 != 0
	pt := buf[1]
	if version != 2 {
		return false
	}
	if padding {
		return false
	}
	return pt == uint8(rtcp.TypeSenderReport) || pt == uint8(rtcp.TypeReceiverReport)
}

// decodeCompound unmarshals a compound RTCP datagram and classifies
// failures as Malformed (bad version/length/truncation) per spec §4.1.
func decodeCompound(buf []byte) (InboundCompound, error) {
	if !canHandle(buf) {
		return InboundCompound{}, newError(ErrUnsupported, "decodeCompound", fmt.Errorf("not an RTCP report datagram"))
	}

	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return InboundCompound{}, newError(ErrMalformed, "decodeCompound", err)
	}

	out := InboundCompound{Packets: packets, SizeBytes: len(buf)}
	for _, p := range packets {
		if bye, ok := p.(*rtcp.Goodbye); ok {
			out.HasBye = true
			out.ByeSSRCs = append(out.ByeSSRCs, bye.Sources...)
		}
	}
	return out, nil
}

// buildSDES assembles the single-chunk SDES sub-packet this module emits:
// CNAME is mandatory, the rest are included only when set (spec §4.1,
// supplemented per SPEC_FULL.md to carry NAME/EMAIL/TOOL beyond CNAME).
func buildSDES(ssrc uint32, d SourceDescription) *rtcp.SourceDescription {
	items := []rtcp.SourceDescriptionItem{
		{Type: rtcp.SDESCNAME, Text: d.CNAME},
	}
	add := func(t rtcp.SDESType, v string) {
		if v != "" {
			items = append(items, rtcp.SourceDescriptionItem{Type: t, Text: v})
		}
	}
	add(rtcp.SDESName, d.Name)
	add(rtcp.SDESEmail, d.Email)
	add(rtcp.SDESPhone, d.Phone)
	add(rtcp.SDESLocation, d.Loc)
	add(rtcp.SDESTool, d.Tool)
	add(rtcp.SDESNote, d.Note)

	return &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{
			{Source: ssrc, Items: items},
		},
	}
}

// buildReport assembles a REPORT compound: SR if weSent, RR otherwise,
// followed by the mandatory SDES.
func buildReport(weSent bool, ssrc uint32, sr rtcp.SenderReport, rr rtcp.ReceiverReport, d SourceDescription) (rtcp.CompoundPacket, error) {
	var cp rtcp.CompoundPacket
	if weSent {
		sr.SSRC = ssrc
		cp = append(cp, &sr)
	} else {
		rr.SSRC = ssrc
		cp = append(cp, &rr)
	}
	cp = append(cp, buildSDES(ssrc, d))
	if err := cp.Validate(); err != nil {
		return nil, newError(ErrMalformed, "buildReport", err)
	}
	return cp, nil
}

// buildBye assembles the RR + SDES + BYE compound the leave path emits
// (spec §4.3, RTCP_BYE branch). BYE is always the last sub-packet.
func buildBye(ssrc uint32, rr rtcp.ReceiverReport, d SourceDescription, reason string) (rtcp.CompoundPacket, error) {
	rr.SSRC = ssrc
	cp := rtcp.CompoundPacket{&rr, buildSDES(ssrc, d), &rtcp.Goodbye{
		Sources: []uint32{ssrc},
		Reason:  reason,
	}}
	if err := cp.Validate(); err != nil {
		return nil, newError(ErrMalformed, "buildBye", err)
	}
	return cp, nil
}

// marshalCompound serializes an already-validated compound packet.
func marshalCompound(cp rtcp.CompoundPacket) ([]byte, error) {
	buf, err := cp.Marshal()
	if err != nil {
		return nil, newError(ErrMalformed, "marshalCompound", err)
	}
	return buf, nil
}
