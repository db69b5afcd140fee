package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownVar is returned for a variable name that is not registered.
	ErrUnknownVar = errors.New("unknown variable")
	// ErrVarProtected is returned when the user tries to change a variable
	// the server has protected or forced.
	ErrVarProtected = errors.New("variable is locked by the server")
	// ErrVarType is returned when a value does not parse as the variable's kind.
	ErrVarType = errors.New("value has the wrong type")
)

// VarKind is the value type of a client variable.
type VarKind int

const (
	KindBool VarKind = iota
	KindNumber
	KindString
)

func (k VarKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	default:
		return "string"
	}
}

// VarFlag describes how a variable may be read and changed.
type VarFlag uint16

const (
	// FlagPrivate variables are never shown to or set by the server.
	FlagPrivate VarFlag = 1 << iota
	// FlagHidden variables are not listed.
	FlagHidden
	FlagUnlockSingleplayer
	FlagUnlockMultiplayer
	FlagAlwaysSubmit
	// FlagPersist variables are written back to config.json.
	FlagPersist
)

// Names of the variables the session reads directly.
const (
	VarAutologin          = "mp_autologin"
	VarServer             = "mp_server"
	VarName               = "name"
	VarPassword           = "mp_password"
	VarOAuthToken         = "mp_oauth_token"
	VarSubmitScores       = "submit_scores"
	VarNotifyFriendStatus = "notify_friend_status"
	VarSpecBuffer         = "spec_buffer"
	VarChatTicker         = "chat_ticker"
	VarChatNotifyOnDM     = "chat_notify_on_dm"
	VarChatHighlightWords = "chat_highlight_words"
	VarFPoSu              = "mod_fposu"
	VarMirrorHorizontal   = "playfield_mirror_horizontal"
	VarMirrorVertical     = "playfield_mirror_vertical"
	VarPlayfieldRotation  = "playfield_rotation"
	VarCheats             = "sv_cheats"
)

// Var is a snapshot of one client variable.
type Var struct {
	Name        string  `json:"name"`
	Kind        VarKind `json:"-"`
	KindName    string  `json:"kind"`
	Description string  `json:"description,omitempty"`
	Default     string  `json:"default"`
	Value       string  `json:"value"`
	Flags       VarFlag `json:"flags"`
	Protected   bool    `json:"protected"`
	Forced      bool    `json:"forced"`

	origDefault string
	origFlags   VarFlag
}

// Bool interprets the value as a boolean.
func (v Var) Bool() bool {
	b, _ := strconv.ParseBool(v.Value)
	return b
}

// Float interprets the value as a number.
func (v Var) Float() float64 {
	f, _ := strconv.ParseFloat(v.Value, 64)
	return f
}

// VarDef registers a variable.
type VarDef struct {
	Name        string
	Kind        VarKind
	Default     string
	Flags       VarFlag
	Description string
}

// DefaultVars is the built-in variable set.
var DefaultVars = []VarDef{
	{VarAutologin, KindBool, "false", FlagPersist, "log in automatically on startup"},
	{VarServer, KindString, DefaultEndpoint, FlagPersist, "bancho server endpoint"},
	{VarName, KindString, "Guest", FlagPersist, "username"},
	{VarPassword, KindString, "", FlagPersist | FlagPrivate | FlagHidden, "account password"},
	{VarOAuthToken, KindString, "", FlagPersist | FlagPrivate | FlagHidden, "oauth token"},
	{VarSubmitScores, KindBool, "false", FlagPersist, "submit scores when the server has no preference"},
	{VarNotifyFriendStatus, KindBool, "true", FlagPersist, "toast when a friend changes activity"},
	{VarSpecBuffer, KindNumber, "2500", FlagPersist, "spectator buffer in milliseconds"},
	{VarChatTicker, KindBool, "true", FlagPersist, "show chat ticker"},
	{VarChatNotifyOnDM, KindBool, "true", FlagPersist, "toast on direct messages"},
	{VarChatHighlightWords, KindString, "", FlagPersist, "space separated words to highlight"},
	{VarFPoSu, KindBool, "false", FlagUnlockSingleplayer, "first person mode"},
	{VarMirrorHorizontal, KindBool, "false", FlagUnlockSingleplayer, "mirror playfield horizontally"},
	{VarMirrorVertical, KindBool, "false", FlagUnlockSingleplayer, "mirror playfield vertically"},
	{VarPlayfieldRotation, KindNumber, "0", FlagUnlockSingleplayer, "playfield rotation in degrees"},
	{VarCheats, KindBool, "true", FlagHidden, "allow gameplay-affecting variables"},
}

// Vars is the registry of named client variables. The server can lock,
// force and reset entries by name at runtime.
type Vars struct {
	mu       sync.RWMutex
	vars     map[string]*Var
	onChange []func(Var)
}

// NewVars creates a registry holding DefaultVars.
func NewVars() *Vars {
	v := &Vars{vars: make(map[string]*Var)}
	for _, def := range DefaultVars {
		v.Register(def)
	}
	return v
}

// Register adds or replaces a variable definition.
func (r *Vars) Register(def VarDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vars[def.Name] = &Var{
		Name:        def.Name,
		Kind:        def.Kind,
		KindName:    def.Kind.String(),
		Description: def.Description,
		Default:     def.Default,
		Value:       def.Default,
		Flags:       def.Flags,
		origDefault: def.Default,
		origFlags:   def.Flags,
	}
}

// OnChange registers a callback run after a variable's value changes. It
// is called without the registry lock held.
func (r *Vars) OnChange(fn func(Var)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

func (r *Vars) notify(v Var) {
	r.mu.RLock()
	fns := append([]func(Var){}, r.onChange...)
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Get returns a snapshot of the named variable.
func (r *Vars) Get(name string) (Var, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vars[name]
	if !ok {
		return Var{}, false
	}
	return *v, true
}

// GetString returns the value or "" for an unknown name.
func (r *Vars) GetString(name string) string {
	v, _ := r.Get(name)
	return v.Value
}

// GetBool returns the value as a bool, false for an unknown name.
func (r *Vars) GetBool(name string) bool {
	v, _ := r.Get(name)
	return v.Bool()
}

// GetFloat returns the value as a number, 0 for an unknown name.
func (r *Vars) GetFloat(name string) float64 {
	v, _ := r.Get(name)
	return v.Float()
}

// List returns all non-hidden variables sorted by name.
func (r *Vars) List() []Var {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Var, 0, len(r.vars))
	for _, v := range r.vars {
		if v.Flags&FlagHidden != 0 {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func normalize(kind VarKind, value string) (string, error) {
	switch kind {
	case KindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%q is not a bool: %w", value, ErrVarType)
		}
		return strconv.FormatBool(b), nil
	case KindNumber:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a number: %w", value, ErrVarType)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		return value, nil
	}
}

// Set changes a variable on behalf of the user. Protected and forced
// variables refuse the change.
func (r *Vars) Set(name, value string) error {
	r.mu.Lock()
	v, ok := r.vars[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownVar)
	}
	if v.Protected || v.Forced {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrVarProtected)
	}
	norm, err := normalize(v.Kind, value)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, err)
	}
	changed := v.Value != norm
	v.Value = norm
	snap := *v
	r.mu.Unlock()

	if changed {
		r.notify(snap)
	}
	return nil
}

// SetInternal changes a variable on behalf of the client itself, ignoring
// server locks. Used for bookkeeping such as mp_autologin.
func (r *Vars) SetInternal(name, value string) error {
	r.mu.Lock()
	v, ok := r.vars[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownVar)
	}
	norm, err := normalize(v.Kind, value)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, err)
	}
	changed := v.Value != norm
	v.Value = norm
	snap := *v
	r.mu.Unlock()

	if changed {
		r.notify(snap)
	}
	return nil
}

// Protect stops the user from changing the variable.
func (r *Vars) Protect(name string) error {
	return r.update(name, func(v *Var) { v.Protected = true })
}

// Unprotect lifts Protect.
func (r *Vars) Unprotect(name string) error {
	return r.update(name, func(v *Var) { v.Protected = false })
}

// Force sets the value and locks it until Reset.
func (r *Vars) Force(name, value string) error {
	r.mu.Lock()
	v, ok := r.vars[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownVar)
	}
	if v.Flags&FlagPrivate != 0 {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrVarProtected)
	}
	norm, err := normalize(v.Kind, value)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, err)
	}
	changed := v.Value != norm
	v.Value = norm
	v.Forced = true
	snap := *v
	r.mu.Unlock()

	if changed {
		r.notify(snap)
	}
	return nil
}

// Reset restores the default value and clears a forced lock.
func (r *Vars) Reset(name string) error {
	var snap Var
	changed := false
	err := r.update(name, func(v *Var) {
		changed = v.Value != v.Default
		v.Value = v.Default
		v.Forced = false
		snap = *v
	})
	if err == nil && changed {
		r.notify(snap)
	}
	return err
}

// ResetAll lifts every server lock and restores every server-side
// default override. User values are kept.
func (r *Vars) ResetAll() {
	r.mu.Lock()
	var changed []Var
	for _, v := range r.vars {
		if v.Forced {
			v.Value = v.origDefault
			changed = append(changed, *v)
		}
		v.Protected = false
		v.Forced = false
		v.Default = v.origDefault
		v.Flags = v.origFlags
	}
	r.mu.Unlock()

	for _, v := range changed {
		r.notify(v)
	}
}

func (r *Vars) update(name string, fn func(v *Var)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vars[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownVar)
	}
	if v.Flags&FlagPrivate != 0 {
		return fmt.Errorf("%s: %w", name, ErrVarProtected)
	}
	fn(v)
	return nil
}

// serverOverride is one entry of neosu.json.
type serverOverride struct {
	Default            json.RawMessage `json:"default"`
	UnlockSingleplayer json.RawMessage `json:"unlock_singleplayer"`
	UnlockMultiplayer  json.RawMessage `json:"unlock_multiplayer"`
	AlwaysSubmit       json.RawMessage `json:"always_submit"`
}

// ApplyServerSettings applies a neosu.json document of the form
// {name: {default, unlock_singleplayer, unlock_multiplayer, always_submit}}.
// Unknown names are skipped. Private or hidden variables and values of the
// wrong JSON type are errors; the offending variable is restored to its
// built-in default and flags.
func (r *Vars) ApplyServerSettings(data []byte) (overrides, errs int, err error) {
	if len(data) == 0 {
		return 0, 0, errors.New("empty settings document")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, 0, fmt.Errorf("failed to parse settings: %w", err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		v, ok := r.vars[name]
		if !ok {
			log.Debug().Str("var", name).Msg("unknown variable in server settings, skipping")
			continue
		}

		v.Default = v.origDefault
		v.Flags = v.origFlags

		if applyOverride(v, doc[name]) {
			overrides++
			continue
		}
		v.Default = v.origDefault
		v.Flags = v.origFlags
		errs++
	}

	return overrides, errs, nil
}

func applyOverride(v *Var, raw json.RawMessage) bool {
	if v.Flags&(FlagHidden|FlagPrivate) != 0 {
		log.Warn().Str("var", v.Name).Msg("server tried to override a private variable")
		return false
	}

	var o serverOverride
	if err := json.Unmarshal(raw, &o); err != nil {
		log.Debug().Str("var", v.Name).Err(err).Msg("settings entry is not an object")
		return false
	}

	newDefault := v.Default
	if o.Default != nil {
		def, ok := decodeDefault(v.Kind, o.Default)
		if !ok {
			log.Debug().Str("var", v.Name).Str("want", v.Kind.String()).Msg("invalid type for default")
			return false
		}
		newDefault = def
	}

	flags := v.Flags
	for _, f := range []struct {
		raw  json.RawMessage
		flag VarFlag
	}{
		{o.UnlockSingleplayer, FlagUnlockSingleplayer},
		{o.UnlockMultiplayer, FlagUnlockMultiplayer},
		{o.AlwaysSubmit, FlagAlwaysSubmit},
	} {
		if f.raw == nil {
			continue
		}
		var b bool
		if err := json.Unmarshal(f.raw, &b); err != nil {
			log.Debug().Str("var", v.Name).Msg("invalid type for flag, want bool")
			return false
		}
		flags &^= f.flag
		if b {
			flags |= f.flag
		}
	}
	// values the user never touched follow the new default
	if v.Value == v.Default {
		v.Value = newDefault
	}
	v.Default = newDefault
	v.Flags = flags
	return true
}

func decodeDefault(kind VarKind, raw json.RawMessage) (string, bool) {
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return "", false
		}
		return strconv.FormatFloat(f, 'g', -1, 64), true
	}
}
