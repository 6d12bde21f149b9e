// Package samplesloader decodes the manifests in `config/samples` so that tests can
// start from them. Loading them in tests also checks that the samples still decode.
package samplesloader
