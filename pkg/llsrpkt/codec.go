package llsrpkt

import "fmt"

// Decode parses b into one of the five packet types, validating the declared
// protocol id and the length required for it. The returned Data packet's
// Payload is a copy; callers may freely mutate or discard b afterward.
func Decode(b []byte) (Packet, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("llsrpkt: empty packet")
	}
	switch proto := b[0]; proto {
	case ProtoARQ:
		if len(b) != AckPktLen {
			return nil, fmt.Errorf("llsrpkt: ack: bad length %d", len(b))
		}
		return Ack{
			Src:        b[1],
			Dest:       b[2],
			Cnt:        b[3],
			AckedProto: b[4],
		}, nil
	case ProtoData:
		if len(b) < DataPktMin {
			return nil, fmt.Errorf("llsrpkt: data: bad length %d", len(b))
		}
		payload := make([]byte, len(b)-DataPktMin)
		copy(payload, b[DataPktMin:])
		return Data{
			Src:     b[1],
			Dest:    b[2],
			Cnt:     b[3],
			Ctrl:    b[4],
			Payload: payload,
		}, nil
	case ProtoBeacon:
		if len(b) != BeaconPktLen {
			return nil, fmt.Errorf("llsrpkt: beacon: bad length %d", len(b))
		}
		return Beacon{
			Src:         b[1],
			HopCount:    b[2],
			PathQuality: b[3],
		}, nil
	case ProtoMgmt:
		if len(b) != MgmtPktLen {
			return nil, fmt.Errorf("llsrpkt: mgmt: bad length %d", len(b))
		}
		return Mgmt{
			Src:    b[1],
			Track:  b[2],
			Origin: b[3],
			Value:  b[4],
			Dest:   b[5],
			Opt:    b[6],
			OID:    b[7],
			Hash:   b[8],
		}, nil
	case ProtoMgmtResp:
		if len(b) != MgmtRespPktLen {
			return nil, fmt.Errorf("llsrpkt: mgmt_resp: bad length %d", len(b))
		}
		return MgmtResp{
			Src:    b[1],
			Dest:   b[2],
			Cnt:    b[3],
			Flag:   b[4],
			Origin: b[5],
			Track:  b[6],
			Value:  b[7],
			Hash:   b[8],
		}, nil
	default:
		return nil, fmt.Errorf("llsrpkt: unknown protocol id %d", proto)
	}
}

// Encode serializes p into its wire representation.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case Ack:
		return []byte{ProtoARQ, v.Src, v.Dest, v.Cnt, v.AckedProto}, nil
	case Data:
		b := make([]byte, DataPktMin, DataPktMin+len(v.Payload))
		b[0], b[1], b[2], b[3], b[4] = ProtoData, v.Src, v.Dest, v.Cnt, v.Ctrl
		b = append(b, v.Payload...)
		return b, nil
	case Beacon:
		return []byte{ProtoBeacon, v.Src, v.HopCount, v.PathQuality}, nil
	case Mgmt:
		return []byte{ProtoMgmt, v.Src, v.Track, v.Origin, v.Value, v.Dest, v.Opt, v.OID, v.Hash}, nil
	case MgmtResp:
		return []byte{ProtoMgmtResp, v.Src, v.Dest, v.Cnt, v.Flag, v.Origin, v.Track, v.Value, v.Hash}, nil
	default:
		return nil, fmt.Errorf("llsrpkt: unsupported packet type %T", p)
	}
}
