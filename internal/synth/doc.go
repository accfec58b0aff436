// Package synth defines the speech synthesis contract and the engines that
// satisfy it, along with the Loader that creates an engine on demand and
// releases it again after a period of inactivity.
package synth
