package graph

// Well-known names.
const (
	ClassInitializerName    = "<clinit>"
	InstanceInitializerName = "<init>"

	// ObjectType is the root of the class hierarchy; it is always a
	// library type and its initialization is trivial.
	ObjectType Type = "java.lang.Object"
)

// Field is an encoded field: its reference plus access flags.
type Field struct {
	Ref   FieldRef
	Flags AccessFlags
}

// Method is an encoded method: its reference, access flags, and body.
// Abstract and native methods have a nil Code.
type Method struct {
	Ref   MethodRef
	Flags AccessFlags
	Code  *Code
}

// IsClassInitializer reports whether m is the static initializer.
func (m *Method) IsClassInitializer() bool {
	return m.Ref.Name == ClassInitializerName
}

// IsInstanceInitializer reports whether m is a constructor.
func (m *Method) IsInstanceInitializer() bool {
	return m.Ref.Name == InstanceInitializerName
}

// IsInitializer reports whether m is either kind of initializer.
func (m *Method) IsInitializer() bool {
	return m.IsClassInitializer() || m.IsInstanceInitializer()
}

// Class is one program class: identity, supertype edges, flags, and the
// four member collections. Direct methods are static, private, and
// constructor methods; virtual methods participate in dynamic dispatch.
type Class struct {
	Type       Type
	Super      Type
	Interfaces []Type
	Flags      AccessFlags

	StaticFields   []*Field
	InstanceFields []*Field
	DirectMethods  []*Method
	VirtualMethods []*Method
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Flags.IsInterface() }

// HasMembers reports whether any member collection is non-empty.
func (c *Class) HasMembers() bool {
	return len(c.StaticFields)+len(c.InstanceFields)+len(c.DirectMethods)+len(c.VirtualMethods) > 0
}

// Fields iterates all fields, static first.
func (c *Class) Fields() []*Field {
	out := make([]*Field, 0, len(c.StaticFields)+len(c.InstanceFields))
	out = append(out, c.StaticFields...)
	return append(out, c.InstanceFields...)
}

// Methods iterates all methods, direct first.
func (c *Class) Methods() []*Method {
	out := make([]*Method, 0, len(c.DirectMethods)+len(c.VirtualMethods))
	out = append(out, c.DirectMethods...)
	return append(out, c.VirtualMethods...)
}

// ClearMembers empties every member collection, marking the class as
// merged away.
func (c *Class) ClearMembers() {
	c.StaticFields = nil
	c.InstanceFields = nil
	c.DirectMethods = nil
	c.VirtualMethods = nil
}

// LookupDirectMethod finds a direct method with the exact signature.
func (c *Class) LookupDirectMethod(name string, proto Proto) *Method {
	for _, m := range c.DirectMethods {
		if m.Ref.Name == name && m.Ref.Proto == proto {
			return m
		}
	}
	return nil
}

// LookupVirtualMethod finds a virtual method with the exact signature.
func (c *Class) LookupVirtualMethod(name string, proto Proto) *Method {
	for _, m := range c.VirtualMethods {
		if m.Ref.Name == name && m.Ref.Proto == proto {
			return m
		}
	}
	return nil
}

// ClassInitializer returns the static initializer, if present.
func (c *Class) ClassInitializer() *Method {
	for _, m := range c.DirectMethods {
		if m.IsClassInitializer() {
			return m
		}
	}
	return nil
}
