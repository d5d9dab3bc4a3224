package optimize

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

// parameterFile is the optimizer's XML input. Inputs are the distance
// transforms; PointFiles seed a level with the previous level's result.
type parameterFile struct {
	XMLName    xml.Name `xml:"optimize"`
	Inputs     fileList `xml:"inputs"`
	PointFiles []string `xml:"point_files>file,omitempty"`
	OutputDir  string   `xml:"output_dir"`
	Params
}

type fileList struct {
	Files []string `xml:"file"`
}

// writeParameterFile encodes the parameter file.
func writeParameterFile(w io.Writer, pf parameterFile) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(pf); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func saveParameterFile(path string, pf parameterFile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating parameter file: %w", err)
	}
	if err := writeParameterFile(f, pf); err != nil {
		f.Close()
		return fmt.Errorf("error writing parameter file: %w", err)
	}
	return f.Close()
}

// readParameterFile decodes a parameter file written by saveParameterFile.
func readParameterFile(r io.Reader) (parameterFile, error) {
	var pf parameterFile
	err := xml.NewDecoder(r).Decode(&pf)
	return pf, err
}
