package store

import (
	"encoding/json"
	"regexp"
	"unicode"

	"github.com/pku-geekgame/ctf-core/internal/apperrors"
)

// FlagFormat is the textual submission format required by §4.1: must match
// flag{[printable-ASCII-without-right-brace]{1,100}} and be no longer than
// MaxFlagLen.
var FlagFormat = regexp.MustCompile(`^flag\{[\x20-\x7c\x7e]{1,100}\}$`)

// MaxFlagLen is the hard length cap on a flag string, checked before the
// regexp to bound backtracking cost.
const MaxFlagLen = 110

// CheckFlagFormat validates a literal flag string (used for static/leet
// base values and partitioned array entries) against §4.1's format rule.
func CheckFlagFormat(flag string) error {
	if len(flag) > MaxFlagLen {
		return apperrors.Validation("flag too long")
	}
	if !FlagFormat.MatchString(flag) {
		return apperrors.Validation("flag does not match required format")
	}
	return nil
}

// CategoryColors is the static category-name to display-color lookup behind
// CategoryColor (SPEC_FULL §3 "Category color hinting"). Board rendering
// does not use it.
var CategoryColors = map[string]string{
	"Tutorial":  "#333333",
	"Misc":      "#7e2d86",
	"Web":       "#2d8664",
	"Binary":    "#864a2d",
	"Algorithm": "#2f2d86",
}

// FallbackCategoryColor is used for categories absent from CategoryColors.
const FallbackCategoryColor = "#000000"

// CategoryColor returns the display color for a category, falling back to
// FallbackCategoryColor when unrecognized.
func CategoryColor(category string) string {
	if c, ok := CategoryColors[category]; ok {
		return c
	}
	return FallbackCategoryColor
}

// ValidateChallengeFlags enforces §3/§4.1's flag list invariants: non-empty,
// known type, literal flags well-formed, and the exactly-one-flag ⇒ empty
// name / multi-flag ⇒ non-empty name rule.
func ValidateChallengeFlags(flags []FlagDescriptor) error {
	if len(flags) == 0 {
		return apperrors.Validation("flags must not be empty")
	}

	for _, f := range flags {
		switch f.Type {
		case FlagStatic, FlagLeet:
			var val string
			if err := unmarshalStrict(f.Val, &val); err != nil {
				return apperrors.Validation("flag %q val must be a string: %v", f.Name, err)
			}
			if err := CheckFlagFormat(val); err != nil {
				return apperrors.Validation("flag %q has invalid format: %v", f.Name, err)
			}
		case FlagPartitioned:
			var vals []string
			if err := unmarshalStrict(f.Val, &vals); err != nil {
				return apperrors.Validation("flag %q val must be a list of strings: %v", f.Name, err)
			}
			for _, v := range vals {
				if err := CheckFlagFormat(v); err != nil {
					return apperrors.Validation("flag %q has invalid format: %v", f.Name, err)
				}
			}
		case FlagDynamic:
			var module string
			if err := unmarshalStrict(f.Val, &module); err != nil {
				return apperrors.Validation("flag %q val must be a module path string: %v", f.Name, err)
			}
		default:
			return apperrors.Validation("unknown flag type: %s", f.Type)
		}
	}

	if len(flags) == 1 {
		if flags[0].Name != "" {
			return apperrors.Validation("a single flag's name must be empty, since it is never displayed")
		}
	} else {
		for _, f := range flags {
			if f.Name == "" {
				return apperrors.Validation("flag name is required when a challenge has multiple flags")
			}
		}
	}

	return nil
}

// ValidateChallengeActions enforces the attachment-filename uniqueness rule
// of §4.1.
func ValidateChallengeActions(actions []ActionDescriptor) error {
	seen := make(map[string]bool)
	for _, a := range actions {
		if a.Kind != ActionAttachment && a.Kind != ActionDynAttachment {
			continue
		}
		if a.Filename == "" {
			continue
		}
		if seen[a.Filename] {
			return apperrors.Validation("duplicate attachment filename: %s", a.Filename)
		}
		seen[a.Filename] = true
	}
	return nil
}

// disallowedNicknameCategory reports whether r belongs to one of the
// Unicode categories the nickname blacklist rejects: control, format,
// surrogate, spacing/enclosing/non-spacing marks, and line/paragraph
// separators (categories Cc, Cf, Cs, Mc, Me, Mn, Zl, Zp).
func disallowedNicknameCategory(r rune) bool {
	return unicode.In(r,
		unicode.Cc, unicode.Cf, unicode.Cs,
		unicode.Mc, unicode.Me, unicode.Mn,
		unicode.Zl, unicode.Zp,
	)
}

// nicknameWideRunes are treated as occupying two display columns even
// though they are single runes (the lowercase letters 'w' and 'm' and a
// handful of visually wide punctuation).
var nicknameWideRunes = map[rune]bool{
	'w': true, 'm': true, '@': true, '%': true, '~': true,
	'=': true, '<': true, '>': true, '&': true,
}

// MaxNicknameWidth is the grapheme-aware display width cap of §4.1.
const MaxNicknameWidth = 40

// ValidateNickname rejects a nickname containing a blacklisted Unicode
// category, a whitespace-only nickname, or a nickname whose display width
// (ASCII narrow glyphs count 1, everything else — including any astral
// emoji rune — counts 2) exceeds MaxNicknameWidth. This approximates true
// grapheme-cluster accounting without a dedicated segmentation library (see
// DESIGN.md).
func ValidateNickname(nickname string) error {
	if len(nickname) == 0 || len(nickname) > 120 {
		return apperrors.Validation("nickname length out of range")
	}

	allWhitespace := true
	width := 0
	for _, r := range nickname {
		if disallowedNicknameCategory(r) {
			return apperrors.Validation("nickname contains a disallowed character: U+%04X", r)
		}
		if !unicode.IsSpace(r) {
			allWhitespace = false
		}
		if r < 128 && !nicknameWideRunes[r] {
			width++
		} else {
			width += 2
		}
	}

	if allWhitespace {
		return apperrors.Validation("nickname must not be all whitespace")
	}
	if width > MaxNicknameWidth {
		return apperrors.Validation("nickname is too long (display width %d)", width)
	}
	return nil
}

// RequiredProfileFields declares, per group, which UserProfile fields must
// be present (§3's per-group required-field map), as a built-in map that
// can be passed to CheckProfileComplete. It is not loaded from
// internal/config, whose REQUIRED_PROFILE_FIELDS default lists different
// fields.
var RequiredProfileFields = map[string][]string{
	"staff":  {"nickname", "tel", "qq", "comment"},
	"pku":    {"nickname", "tel", "qq", "comment"},
	"other":  {"nickname", "qq", "comment"},
	"banned": {"nickname", "qq", "comment"},
}

// CheckProfileComplete verifies that profile carries every field required
// for group, per §3's "per-group map declares which fields are required".
func CheckProfileComplete(group string, profile UserProfileRow, required map[string][]string) error {
	fields, ok := required[group]
	if !ok {
		return nil
	}
	for _, field := range fields {
		var present bool
		switch field {
		case "nickname":
			present = profile.Nickname != nil && *profile.Nickname != ""
		case "qq":
			present = profile.QQ != nil && *profile.QQ != ""
		case "tel":
			present = profile.Tel != nil && *profile.Tel != ""
		case "email":
			present = profile.Email != nil && *profile.Email != ""
		case "gender":
			present = profile.Gender != nil && *profile.Gender != ""
		case "stuid":
			present = profile.StuID != nil && *profile.StuID != ""
		case "comment":
			present = profile.Comment != nil && *profile.Comment != ""
		}
		if !present {
			return apperrors.Validation("profile incomplete: missing %s", field)
		}
	}
	if fieldsContains(fields, "nickname") && profile.Nickname != nil {
		if err := ValidateNickname(*profile.Nickname); err != nil {
			return err
		}
	}
	return nil
}

func fieldsContains(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func unmarshalStrict(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
