package wire

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"paxoslog/internal/ballot"
)

// Type tags the first whitespace-separated field of every wire line.
type Type string

const (
	TypePrepare  Type = "PREPARE"
	TypePromise  Type = "PROMISE"
	TypeAccept   Type = "ACCEPT"
	TypeAccepted Type = "ACCEPTED"
	TypeNack     Type = "NACK"
	TypeSubmit   Type = "SUBMIT"
	TypeCatchReq Type = "CATCHREQ"
	TypeCatchRsp Type = "CATCHRSP"
	TypeDecided  Type = "DECIDED"
)

const noValue = "-"

func encodeValue(v []byte) string {
	if v == nil {
		return noValue
	}
	return base64.RawURLEncoding.EncodeToString(v)
}

func decodeValue(tok string) ([]byte, error) {
	if tok == noValue {
		return nil, nil
	}
	return base64.RawURLEncoding.DecodeString(tok)
}

// Encode marshals a message into one self-delimited protocol line, with no
// trailing newline.
func Encode(msg any) (string, error) {
	switch m := msg.(type) {
	case Prepare:
		return fmt.Sprintf("%s %d %d %d", TypePrepare, m.Slot, m.Ballot.Round, m.Ballot.ProposerID), nil
	case Promise:
		ar, ap, av := "-", "-", noValue
		if m.HasAccepted {
			ar = strconv.Itoa(m.AcceptedBallot.Round)
			ap = strconv.Itoa(m.AcceptedBallot.ProposerID)
			av = encodeValue(m.AcceptedValue)
		}
		return fmt.Sprintf("%s %d %d %d %s %s %s %d", TypePromise, m.Slot, m.Ballot.Round, m.Ballot.ProposerID, ar, ap, av, m.From), nil
	case Accept:
		return fmt.Sprintf("%s %d %d %d %s", TypeAccept, m.Slot, m.Ballot.Round, m.Ballot.ProposerID, encodeValue(m.Value)), nil
	case Accepted:
		return fmt.Sprintf("%s %d %d %d %s %d", TypeAccepted, m.Slot, m.Ballot.Round, m.Ballot.ProposerID, encodeValue(m.Value), m.AcceptorID), nil
	case Nack:
		return fmt.Sprintf("%s %d %d %d %s", TypeNack, m.Slot, m.Promised.Round, m.Promised.ProposerID, m.Phase), nil
	case Submit:
		return fmt.Sprintf("%s %d %d %s", TypeSubmit, m.ClientID, m.Seq, encodeValue(m.Value)), nil
	case CatchupRequest:
		return fmt.Sprintf("%s %d %d %s", TypeCatchReq, m.FromSlot, m.LearnerID, m.RequestID), nil
	case CatchupReply:
		return fmt.Sprintf("%s %d %s", TypeCatchRsp, m.Slot, encodeValue(m.Value)), nil
	case Decided:
		return fmt.Sprintf("%s %d %d %d", TypeDecided, m.ClientID, m.Seq, m.Slot), nil
	default:
		return "", fmt.Errorf("wire: unknown message type %T", msg)
	}
}

// Decode parses one protocol line back into a typed message. Malformed
// lines return an error; the transport drops, logs and counts them
// (spec.md §7).
func Decode(line string) (any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("wire: empty line")
	}
	switch Type(fields[0]) {
	case TypePrepare:
		if len(fields) != 4 {
			return nil, fmt.Errorf("wire: malformed PREPARE: %q", line)
		}
		slot, err1 := strconv.Atoi(fields[1])
		round, err2 := strconv.Atoi(fields[2])
		pid, err3 := strconv.Atoi(fields[3])
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("wire: malformed PREPARE: %w", err)
		}
		return Prepare{Slot: slot, Ballot: ballot.New(round, pid)}, nil

	case TypePromise:
		if len(fields) != 8 {
			return nil, fmt.Errorf("wire: malformed PROMISE: %q", line)
		}
		slot, err1 := strconv.Atoi(fields[1])
		round, err2 := strconv.Atoi(fields[2])
		pid, err3 := strconv.Atoi(fields[3])
		from, err4 := strconv.Atoi(fields[7])
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, fmt.Errorf("wire: malformed PROMISE: %w", err)
		}
		p := Promise{Slot: slot, Ballot: ballot.New(round, pid), From: from}
		if fields[4] != "-" {
			ar, err5 := strconv.Atoi(fields[4])
			ap, err6 := strconv.Atoi(fields[5])
			if err := firstErr(err5, err6); err != nil {
				return nil, fmt.Errorf("wire: malformed PROMISE accepted ballot: %w", err)
			}
			val, err := decodeValue(fields[6])
			if err != nil {
				return nil, fmt.Errorf("wire: malformed PROMISE value: %w", err)
			}
			p.HasAccepted = true
			p.AcceptedBallot = ballot.New(ar, ap)
			p.AcceptedValue = val
		}
		return p, nil

	case TypeAccept:
		if len(fields) != 5 {
			return nil, fmt.Errorf("wire: malformed ACCEPT: %q", line)
		}
		slot, err1 := strconv.Atoi(fields[1])
		round, err2 := strconv.Atoi(fields[2])
		pid, err3 := strconv.Atoi(fields[3])
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("wire: malformed ACCEPT: %w", err)
		}
		val, err := decodeValue(fields[4])
		if err != nil {
			return nil, fmt.Errorf("wire: malformed ACCEPT value: %w", err)
		}
		return Accept{Slot: slot, Ballot: ballot.New(round, pid), Value: val}, nil

	case TypeAccepted:
		if len(fields) != 6 {
			return nil, fmt.Errorf("wire: malformed ACCEPTED: %q", line)
		}
		slot, err1 := strconv.Atoi(fields[1])
		round, err2 := strconv.Atoi(fields[2])
		pid, err3 := strconv.Atoi(fields[3])
		acceptorID, err4 := strconv.Atoi(fields[5])
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, fmt.Errorf("wire: malformed ACCEPTED: %w", err)
		}
		val, err := decodeValue(fields[4])
		if err != nil {
			return nil, fmt.Errorf("wire: malformed ACCEPTED value: %w", err)
		}
		return Accepted{Slot: slot, Ballot: ballot.New(round, pid), Value: val, AcceptorID: acceptorID}, nil

	case TypeNack:
		if len(fields) != 5 {
			return nil, fmt.Errorf("wire: malformed NACK: %q", line)
		}
		slot, err1 := strconv.Atoi(fields[1])
		round, err2 := strconv.Atoi(fields[2])
		pid, err3 := strconv.Atoi(fields[3])
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("wire: malformed NACK: %w", err)
		}
		phase := Phase(fields[4])
		if phase != PhasePrepare && phase != PhaseAccept {
			return nil, fmt.Errorf("wire: malformed NACK phase: %q", fields[4])
		}
		return Nack{Slot: slot, Promised: ballot.New(round, pid), Phase: phase}, nil

	case TypeSubmit:
		if len(fields) != 4 {
			return nil, fmt.Errorf("wire: malformed SUBMIT: %q", line)
		}
		clientID, err1 := strconv.Atoi(fields[1])
		seq, err2 := strconv.Atoi(fields[2])
		if err := firstErr(err1, err2); err != nil {
			return nil, fmt.Errorf("wire: malformed SUBMIT: %w", err)
		}
		val, err := decodeValue(fields[3])
		if err != nil {
			return nil, fmt.Errorf("wire: malformed SUBMIT value: %w", err)
		}
		return Submit{ClientID: clientID, Seq: seq, Value: val}, nil

	case TypeCatchReq:
		if len(fields) != 4 {
			return nil, fmt.Errorf("wire: malformed CATCHREQ: %q", line)
		}
		fromSlot, err1 := strconv.Atoi(fields[1])
		learnerID, err2 := strconv.Atoi(fields[2])
		if err := firstErr(err1, err2); err != nil {
			return nil, fmt.Errorf("wire: malformed CATCHREQ: %w", err)
		}
		return CatchupRequest{FromSlot: fromSlot, LearnerID: learnerID, RequestID: fields[3]}, nil

	case TypeCatchRsp:
		if len(fields) != 3 {
			return nil, fmt.Errorf("wire: malformed CATCHRSP: %q", line)
		}
		slot, err1 := strconv.Atoi(fields[1])
		if err1 != nil {
			return nil, fmt.Errorf("wire: malformed CATCHRSP: %w", err1)
		}
		val, err := decodeValue(fields[2])
		if err != nil {
			return nil, fmt.Errorf("wire: malformed CATCHRSP value: %w", err)
		}
		return CatchupReply{Slot: slot, Value: val}, nil

	case TypeDecided:
		if len(fields) != 4 {
			return nil, fmt.Errorf("wire: malformed DECIDED: %q", line)
		}
		clientID, err1 := strconv.Atoi(fields[1])
		seq, err2 := strconv.Atoi(fields[2])
		slot, err3 := strconv.Atoi(fields[3])
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("wire: malformed DECIDED: %w", err)
		}
		return Decided{ClientID: clientID, Seq: seq, Slot: slot}, nil

	default:
		return nil, fmt.Errorf("wire: unknown message type %q", fields[0])
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
