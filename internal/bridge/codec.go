package bridge

import (
	"errors"
	"fmt"
	"strings"
)

const (
	addressSeparator        = "@"
	labelSeparator          = "."
	bridgeHandleSuffix      = ".ap.brid.gy"
	bridgeAddressDomain     = "bsky.brid.gy"
	blueskyProfileURLFormat = "https://bsky.app/profile/%s"
	underscoreCharacter     = "_"
	tildeCharacter          = "~"
	dashCharacter           = "-"
	spaceCharacter          = " "

	expectedAddressSegments = 2

	errMessageEmptyAddress     = "account address cannot be empty"
	errMessageMalformedAddress = "account address did not split into user and instance on a single @"
	errMessageEmptyUserSegment = "account address contained an empty user segment"
	errMessageEmptyInstance    = "account address contained an empty instance segment"
	errMessageEmptyHandle      = "handle cannot be empty"
	errMessageHandleWithoutDot = "handle did not contain a dot"
	errMessageHandleWithAtSign = "handle cannot contain an @"
	errMessageHandleWithSpaces = "handle cannot contain spaces"

	NamespaceFediverse = Namespace("fediverse")
	NamespaceBluesky   = Namespace("bluesky")
	NamespaceBridge    = Namespace("bridge")

	// BridgeRequestAddressFediverse is the account a fediverse user follows to
	// ask Bridgy Fed to start bridging them into Bluesky.
	BridgeRequestAddressFediverse = "@bsky.brid.gy@bsky.brid.gy"
	// BridgeRequestAddressBluesky is the account a Bluesky user follows to ask
	// Bridgy Fed to start bridging them into the fediverse.
	BridgeRequestAddressBluesky = "@ap.brid.gy"
)

var (
	// ErrEmptyAddress indicates a blank fediverse account address.
	ErrEmptyAddress = errors.New(errMessageEmptyAddress)
	// ErrMalformedAddress indicates a fediverse address without a single user@instance split.
	ErrMalformedAddress = errors.New(errMessageMalformedAddress)
	// ErrEmptyHandle indicates a blank Bluesky handle.
	ErrEmptyHandle = errors.New(errMessageEmptyHandle)
	// ErrMalformedHandle indicates a Bluesky handle that is not a dotted DNS name.
	ErrMalformedHandle = errors.New(errMessageHandleWithoutDot)

	errEmptyUserSegment = errors.New(errMessageEmptyUserSegment)
	errEmptyInstance    = errors.New(errMessageEmptyInstance)
	errHandleWithAtSign = errors.New(errMessageHandleWithAtSign)
	errHandleWithSpaces = errors.New(errMessageHandleWithSpaces)

	labelReplacer = strings.NewReplacer(underscoreCharacter, dashCharacter, tildeCharacter, dashCharacter)
)

// Namespace identifies which address space an account identifier belongs to.
type Namespace string

// Account pairs a raw identifier with the namespace it belongs to.
type Account struct {
	Raw       string
	Namespace Namespace
}

// Conversion captures a source account together with its bridge-derived counterpart.
// Values are immutable once created.
type Conversion struct {
	Source     Account
	Derived    Account
	ProfileURL string
}

// ToBlueskyHandle converts a fediverse user@instance address into the bridged
// Bluesky handle user.instance.ap.brid.gy. Underscores and tildes become
// dashes so the user label stays DNS-safe; instance dots are preserved.
func ToBlueskyHandle(fediverseAddress string) (Conversion, error) {
	trimmedAddress := strings.TrimSpace(fediverseAddress)
	trimmedAddress = strings.TrimPrefix(trimmedAddress, addressSeparator)
	if trimmedAddress == "" {
		return Conversion{}, ErrEmptyAddress
	}

	safeAddress := labelReplacer.Replace(trimmedAddress)
	segments := strings.Split(safeAddress, addressSeparator)
	if len(segments) != expectedAddressSegments {
		return Conversion{}, fmt.Errorf("%w: %q", ErrMalformedAddress, fediverseAddress)
	}
	userSegment := segments[0]
	instanceSegment := segments[1]
	if userSegment == "" {
		return Conversion{}, fmt.Errorf("%w: %q", errEmptyUserSegment, fediverseAddress)
	}
	if instanceSegment == "" {
		return Conversion{}, fmt.Errorf("%w: %q", errEmptyInstance, fediverseAddress)
	}

	derivedHandle := userSegment + labelSeparator + instanceSegment + bridgeHandleSuffix
	conversion := Conversion{
		Source:     Account{Raw: fediverseAddress, Namespace: NamespaceFediverse},
		Derived:    Account{Raw: derivedHandle, Namespace: NamespaceBridge},
		ProfileURL: fmt.Sprintf(blueskyProfileURLFormat, derivedHandle),
	}
	return conversion, nil
}

// ToFediverseAddress converts a Bluesky handle user.domain into the bridged
// fediverse address user.domain@bsky.brid.gy.
func ToFediverseAddress(blueskyHandle string) (Conversion, error) {
	trimmedHandle := strings.TrimSpace(blueskyHandle)
	trimmedHandle = strings.TrimPrefix(trimmedHandle, addressSeparator)
	if trimmedHandle == "" {
		return Conversion{}, ErrEmptyHandle
	}
	if strings.Contains(trimmedHandle, addressSeparator) {
		return Conversion{}, fmt.Errorf("%w: %q", errHandleWithAtSign, blueskyHandle)
	}
	if strings.Contains(trimmedHandle, spaceCharacter) {
		return Conversion{}, fmt.Errorf("%w: %q", errHandleWithSpaces, blueskyHandle)
	}
	if !strings.Contains(trimmedHandle, labelSeparator) {
		return Conversion{}, fmt.Errorf("%w: %q", ErrMalformedHandle, blueskyHandle)
	}

	derivedAddress := trimmedHandle + addressSeparator + bridgeAddressDomain
	conversion := Conversion{
		Source:  Account{Raw: trimmedHandle, Namespace: NamespaceBluesky},
		Derived: Account{Raw: derivedAddress, Namespace: NamespaceBridge},
	}
	return conversion, nil
}
