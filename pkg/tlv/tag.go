package tlv

import "fmt"

// TagControl is the upper three bits of a TLV control octet.
type TagControl uint8

// Tag control forms (Appendix A.7.2).
const (
	TagControlAnonymous        TagControl = 0
	TagControlContext          TagControl = 1
	TagControlCommonProfile2   TagControl = 2
	TagControlCommonProfile4   TagControl = 3
	TagControlImplicitProfile2 TagControl = 4
	TagControlImplicitProfile4 TagControl = 5
	TagControlFullyQualified6  TagControl = 6
	TagControlFullyQualified8  TagControl = 7
)

// size is the number of tag bytes following the control octet.
func (c TagControl) size() int {
	switch c {
	case TagControlAnonymous:
		return 0
	case TagControlContext:
		return 1
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		return 2
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		return 4
	case TagControlFullyQualified6:
		return 6
	default:
		return 8
	}
}

// Tag identifies a TLV element within its container.
// Only anonymous and context-specific tags can be written; the reader also
// accepts the profile forms so foreign elements can be skipped.
type Tag struct {
	control TagControl
	number  uint32
	profile uint32
}

// Anonymous returns the anonymous tag.
func Anonymous() Tag { return Tag{control: TagControlAnonymous} }

// ContextTag returns a context-specific tag.
func ContextTag(n uint8) Tag { return Tag{control: TagControlContext, number: uint32(n)} }

// Control returns the tag's control form.
func (t Tag) Control() TagControl { return t.control }

// IsAnonymous reports whether the tag is anonymous.
func (t Tag) IsAnonymous() bool { return t.control == TagControlAnonymous }

// IsContext reports whether the tag is context-specific.
func (t Tag) IsContext() bool { return t.control == TagControlContext }

// TagNumber returns the tag number.
func (t Tag) TagNumber() uint32 { return t.number }

// String returns a debug form of the tag.
func (t Tag) String() string {
	switch t.control {
	case TagControlAnonymous:
		return "Anonymous"
	case TagControlContext:
		return fmt.Sprintf("Context(%d)", t.number)
	default:
		return fmt.Sprintf("Profile(0x%08X, %d)", t.profile, t.number)
	}
}
