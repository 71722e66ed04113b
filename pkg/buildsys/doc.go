// Package buildsys implements the build runner for the 416inputs overlay. A build is a fixed plan
// of external commands (terminate, compile, link) executed in order through mvdan.cc/sh's
// interpreter so that the same command lines work with the host's toolchain on every platform.
package buildsys
