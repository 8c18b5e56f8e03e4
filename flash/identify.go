package flash

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// TargetSelector names a target description. Resource is the description
// file that must be registered first; empty for built-in targets.
type TargetSelector struct {
	Name     string
	Resource string
}

// Chip identifiers are either debug port IDR values or the DBGMCU device ID
// reported by the system bootloader. The ranges do not overlap.
var selectors = map[uint32]TargetSelector{
	0x1ba01477: {Name: "STM32F103RC"},
	0x2ba01477: {Name: "STM32L433RCTx", Resource: "STM32L4xx.yaml"},

	0x414: {Name: "STM32F103RC"},
	0x411: {Name: "STM32F205RB", Resource: "STM32F2xx.yaml"},
	0x435: {Name: "STM32L433RCTx", Resource: "STM32L4xx.yaml"},
}

var families = map[uint32]string{
	0x412: "STM32F10xxx Low Density",
	0x410: "STM32F10xxx Medium Density",
	0x414: "STM32F10xxx High Density",
	0x430: "STM32F10xxx XL Density",
	0x418: "STM32F10xxx Connectivity",
	0x411: "STM32F20xxx / STM32F21xxx",
	0x435: "STM32L43xxx / STM32L44xxx",
	0x462: "STM32L45xxx / STM32L46xxx",
	0x464: "STM32L41xxx / STM32L42xxx",
}

// Lookup returns the selector for a chip identifier without side effects.
func Lookup(id uint32) (TargetSelector, bool) {
	sel, ok := selectors[id]
	return sel, ok
}

// Family returns the device family of a DBGMCU device ID, or "".
func Family(id uint32) string {
	return families[id]
}

// Resolver turns chip identifiers into usable target names, registering
// target descriptions on demand.
type Resolver struct {
	reg Registrar
}

// NewResolver returns a resolver registering descriptions through reg.
func NewResolver(reg Registrar) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve maps id to its target selector and makes sure the target is
// registered. Unknown identifiers give an *UnrecognizedError.
func (r *Resolver) Resolve(id uint32) (TargetSelector, error) {
	sel, ok := Lookup(id)
	if !ok {
		return TargetSelector{}, &UnrecognizedError{ID: id, Family: Family(id)}
	}
	return sel, r.ensure(sel)
}

// ForName returns the selector for a target given by name, loading the
// resource the table associates with it when needed.
func (r *Resolver) ForName(name string) (TargetSelector, error) {
	sel := TargetSelector{Name: name}
	for _, s := range selectors {
		if strings.EqualFold(s.Name, name) {
			sel = s
			break
		}
	}
	return sel, r.ensure(sel)
}

// Describe renders an identifier for humans.
func (r *Resolver) Describe(id uint32) string {
	if sel, ok := Lookup(id); ok {
		return sel.Name
	}
	if f := Family(id); f != "" {
		return "Unknown(" + f + ")"
	}
	return fmt.Sprintf("Unknown(%#x)", id)
}

func (r *Resolver) ensure(sel TargetSelector) error {
	if sel.Resource == "" || r.reg.IsRegistered(sel.Name) {
		return nil
	}
	logrus.Debugf("registering %s for %s", sel.Resource, sel.Name)
	if err := r.reg.RegisterTargetDescription(sel.Resource); err != nil {
		return &RegistrationError{Resource: sel.Resource, Err: err}
	}
	return nil
}
