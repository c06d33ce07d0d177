// Package ndt registers a source scan against a target point set with the
// Normal Distributions Transform.
//
// Back ends implement Matcher and are chosen once at startup by New from a
// configured Method. Adapter wraps whichever back end is active with target
// caching, a per-call deadline and the acceptance policy, so the rest of
// the localizer only ever sees a refined pose or a typed rejection.
package ndt
