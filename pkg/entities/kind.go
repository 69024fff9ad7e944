package entities

// Kind identifies the cacheable entity kinds.
type Kind uint8

const (
	KindPost        Kind = 0
	KindAvatar      Kind = 1
	KindInteraction Kind = 2
	KindComment     Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindAvatar:
		return "avatar"
	case KindInteraction:
		return "interaction"
	case KindComment:
		return "comment"
	}
	return "unknown"
}

func KindFromString(s string) (Kind, bool) {
	switch s {
	case "post":
		return KindPost, true
	case "avatar":
		return KindAvatar, true
	case "interaction":
		return KindInteraction, true
	case "comment":
		return KindComment, true
	}
	return 0, false
}
