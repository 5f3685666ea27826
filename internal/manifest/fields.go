package manifest

// Field identifies one logical column of a manifest.
type Field int

const (
	FieldCode Field = iota
	FieldTitle
	FieldPublicationDate
	FieldSourceFile
	FieldSourceURL
	FieldPageCount
	FieldDocType

	fieldCount
)

// String returns the canonical header spelling for the field.
func (f Field) String() string {
	if int(f) < len(fieldSpecs) {
		return fieldSpecs[f].Aliases[0]
	}
	return "unknown"
}

// FieldSpec binds a logical field to the literal header spellings it accepts.
// Matching is case-sensitive and exact; the alias sets come from the manifest
// templates in circulation, which vary in accents and underscore usage.
type FieldSpec struct {
	Field   Field
	Aliases []string
}

// fieldSpecs is the static header-alias table, indexed by Field. Resolved
// once per parse; the first header occurrence of any alias wins.
var fieldSpecs = [fieldCount]FieldSpec{
	FieldCode: {FieldCode, []string{
		"Nomenclatura",
	}},
	FieldTitle: {FieldTitle, []string{
		"Título", "Titulo",
	}},
	FieldPublicationDate: {FieldPublicationDate, []string{
		"Fecha de publicación", "Fecha de publicacion",
		"Fecha_de_publicación", "Fecha_de_publicacion", "Fecha_de_publicación_",
	}},
	FieldSourceFile: {FieldSourceFile, []string{
		"Documento",
	}},
	FieldSourceURL: {FieldSourceURL, []string{
		"URL Documento", "Url Documento",
		"URL_Documento", "Url_Documento",
	}},
	FieldPageCount: {FieldPageCount, []string{
		"Cantidad de páginas", "Cantidad de paginas",
		"Cantidad_de_páginas", "Cantidad_de_paginas",
	}},
	FieldDocType: {FieldDocType, []string{
		"Tipo documento", "Tipo_documento",
	}},
}

// resolveHeader maps each logical field to its column index in the header
// row. Columns with unrecognized names are ignored. Returns the positions and
// the list of fields that no header cell matched.
func resolveHeader(header []string) (positions [fieldCount]int, missing []string) {
	for i := range positions {
		positions[i] = -1
	}

	byAlias := make(map[string]Field, 24)
	for _, spec := range fieldSpecs {
		for _, alias := range spec.Aliases {
			byAlias[alias] = spec.Field
		}
	}

	for col, cell := range header {
		field, ok := byAlias[cell]
		if !ok {
			continue
		}
		// First occurrence wins.
		if positions[field] == -1 {
			positions[field] = col
		}
	}

	for _, spec := range fieldSpecs {
		if positions[spec.Field] == -1 {
			missing = append(missing, spec.Aliases[0])
		}
	}
	return positions, missing
}
