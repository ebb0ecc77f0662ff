package graph

// AccessFlags is the access/kind bitmask carried by classes and members.
type AccessFlags uint32

const (
	AccPublic AccessFlags = 1 << iota
	AccPrivate
	AccProtected
	AccStatic
	AccFinal
	AccAbstract
	AccInterface
	AccNative
	AccSynthetic
	AccConstructor
)

func (a AccessFlags) IsPublic() bool      { return a&AccPublic != 0 }
func (a AccessFlags) IsPrivate() bool     { return a&AccPrivate != 0 }
func (a AccessFlags) IsProtected() bool   { return a&AccProtected != 0 }
func (a AccessFlags) IsStatic() bool      { return a&AccStatic != 0 }
func (a AccessFlags) IsFinal() bool       { return a&AccFinal != 0 }
func (a AccessFlags) IsAbstract() bool    { return a&AccAbstract != 0 }
func (a AccessFlags) IsInterface() bool   { return a&AccInterface != 0 }
func (a AccessFlags) IsNative() bool      { return a&AccNative != 0 }
func (a AccessFlags) IsSynthetic() bool   { return a&AccSynthetic != 0 }
func (a AccessFlags) IsConstructor() bool { return a&AccConstructor != 0 }

// IsPackagePrivate reports the default visibility (no explicit modifier).
func (a AccessFlags) IsPackagePrivate() bool {
	return a&(AccPublic|AccPrivate|AccProtected) == 0
}

// visibilityRank orders visibilities: private < package-private < protected < public.
func (a AccessFlags) visibilityRank() int {
	switch {
	case a.IsPublic():
		return 3
	case a.IsProtected():
		return 2
	case a.IsPrivate():
		return 0
	default:
		return 1
	}
}

// IsMoreVisibleThan reports whether a is strictly more visible than o.
func (a AccessFlags) IsMoreVisibleThan(o AccessFlags) bool {
	return a.visibilityRank() > o.visibilityRank()
}

// IsAtLeastAsVisibleAs reports whether a is no less visible than o.
func (a AccessFlags) IsAtLeastAsVisibleAs(o AccessFlags) bool {
	return a.visibilityRank() >= o.visibilityRank()
}

// AsPrivate strips the other visibility bits and sets private.
func (a AccessFlags) AsPrivate() AccessFlags {
	return (a &^ (AccPublic | AccProtected)) | AccPrivate
}

// WithoutConstructor clears the constructor marker, used when an
// instance initializer is demoted to an ordinary direct method.
func (a AccessFlags) WithoutConstructor() AccessFlags {
	return a &^ AccConstructor
}
