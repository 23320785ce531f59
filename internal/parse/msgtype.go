package parse

import "strconv"

// MessageType is the normalized message category. The numeric values are
// persisted and must not change.
type MessageType int

const (
	TypeText      MessageType = 0
	TypeImage     MessageType = 1
	TypeVoice     MessageType = 2
	TypeVideo     MessageType = 3
	TypeFile      MessageType = 4
	TypeEmoji     MessageType = 5
	TypeLink      MessageType = 7
	TypeLocation  MessageType = 8
	TypeRedPacket MessageType = 20
	TypeTransfer  MessageType = 21
	TypePoke      MessageType = 22
	TypeCall      MessageType = 23
	TypeShare     MessageType = 24
	TypeReply     MessageType = 25
	TypeForward   MessageType = 26
	TypeContact   MessageType = 27
	TypeSystem    MessageType = 80
	TypeRecall    MessageType = 81
	TypeOther     MessageType = 99
)

var typeNames = map[MessageType]string{
	TypeText:      "text",
	TypeImage:     "image",
	TypeVoice:     "voice",
	TypeVideo:     "video",
	TypeFile:      "file",
	TypeEmoji:     "emoji",
	TypeLink:      "link",
	TypeLocation:  "location",
	TypeRedPacket: "red_packet",
	TypeTransfer:  "transfer",
	TypePoke:      "poke",
	TypeCall:      "call",
	TypeShare:     "share",
	TypeReply:     "reply",
	TypeForward:   "forward",
	TypeContact:   "contact",
	TypeSystem:    "system",
	TypeRecall:    "recall",
	TypeOther:     "other",
}

func (t MessageType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the defined categories.
func (t MessageType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseMessageType maps a name such as "image" to its MessageType.
// Unknown names map to TypeOther.
func ParseMessageType(name string) MessageType {
	for t, s := range typeNames {
		if s == name {
			return t
		}
	}
	return TypeOther
}
