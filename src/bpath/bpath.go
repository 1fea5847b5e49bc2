// Package bpath splits and canonicalizes VFS paths: "/" separated,
// absolute from "/", components are non-empty byte strings excluding
// "/" and NUL, and "." / ".." are not interpreted — there is no
// relative-path support in the kernel core.
package bpath

import "ustr"

/// Split breaks an absolute path into its non-empty components. Split
/// collapses repeated slashes ("/a//b" -> ["a","b"]) and ignores a
/// trailing slash, matching how Biscuit's Cwd_t.Fullpath/Canonicalpath
/// build up paths component by component during open().
func Split(p ustr.Ustr) []ustr.Ustr {
	var comps []ustr.Ustr
	start := -1
	for i := 0; i <= len(p); i++ {
		if i < len(p) && p[i] != '/' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			comps = append(comps, p[start:i].Clone())
			start = -1
		}
	}
	return comps
}

/// Canonicalize rebuilds an absolute path from its split components,
/// dropping duplicate separators. The result always begins with "/".
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := Split(p)
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	out := append(ustr.Ustr{'/'}, comps[0]...)
	for _, c := range comps[1:] {
		out = out.Extend(c)
	}
	return out
}

/// Join appends a child name to a parent path.
func Join(parent ustr.Ustr, child ustr.Ustr) ustr.Ustr {
	if parent.Eq(ustr.MkUstrRoot()) {
		return append(ustr.Ustr{'/'}, child...)
	}
	return parent.Extend(child)
}

/// Valid reports whether a single path component is legal: a non-empty
/// byte string excluding '/' and NUL.
func Valid(component ustr.Ustr) bool {
	if len(component) == 0 {
		return false
	}
	for _, b := range component {
		if b == '/' || b == 0 {
			return false
		}
	}
	return true
}
